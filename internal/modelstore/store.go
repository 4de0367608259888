package modelstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// Fetcher pulls a model snapshot from a remote hub into destDir.
// Deployments without hub access leave it nil; download requests then fail
// with a fetcher-unavailable error instead of guessing at credentials.
type Fetcher interface {
	Fetch(ctx context.Context, repoID, revision, destDir string) error
}

// Store manages the directory-per-model layout under a single models dir.
type Store struct {
	dir     string
	fetcher Fetcher
	log     zerolog.Logger
}

// New creates the models dir if needed and returns a Store over it.
func New(dir string, fetcher Fetcher, log zerolog.Logger) (*Store, error) {
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(expanded); err != nil {
		return nil, fmt.Errorf("creating models dir: %w", err)
	}
	return &Store{
		dir:     expanded,
		fetcher: fetcher,
		log:     log.With().Str("component", "modelstore").Logger(),
	}, nil
}

// Dir returns the root models directory.
func (s *Store) Dir() string { return s.dir }

// ListLocal returns one entry per model subdirectory, sorted by id.
func (s *Store) ListLocal() ([]types.LocalModel, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading models dir: %w", err)
	}
	models := []types.LocalModel{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		models = append(models, types.LocalModel{
			ID:   e.Name(),
			Path: filepath.Join(s.dir, e.Name()),
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps a model identifier to a local path when a matching directory
// exists; otherwise the id is returned unchanged for the backend to resolve
// (hub repo ids pass straight through).
func (s *Store) Resolve(id string) string {
	if err := validateName(id); err != nil {
		return id
	}
	path := filepath.Join(s.dir, id)
	if fsutil.PathExists(path) {
		return path
	}
	return id
}

// Delete removes a model directory tree.
func (s *Store) Delete(id string) error {
	if err := validateName(id); err != nil {
		return err
	}
	path := filepath.Join(s.dir, id)
	if !fsutil.PathExists(path) {
		return notFoundError{id: id}
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing model %s: %w", id, err)
	}
	s.log.Info().Str("model", id).Msg("deleted local model")
	return nil
}

// Download fetches repoID at revision into a fresh model directory and
// returns the local model id. The repo id's slash becomes "--" on disk, the
// convention hub caches use.
func (s *Store) Download(ctx context.Context, repoID, revision string) (string, error) {
	if s.fetcher == nil {
		return "", fetcherUnavailableError{}
	}
	if repoID == "" {
		return "", invalidNameError{name: repoID, reason: "empty"}
	}
	id := strings.ReplaceAll(repoID, "/", "--")
	if err := validateName(id); err != nil {
		return "", err
	}
	dest := filepath.Join(s.dir, id)
	if err := s.fetcher.Fetch(ctx, repoID, revision, dest); err != nil {
		// Leave no half-written model behind.
		os.RemoveAll(dest)
		return "", fmt.Errorf("fetching %s: %w", repoID, err)
	}
	s.log.Info().Str("repo", repoID).Str("revision", revision).Str("model", id).Msg("downloaded model")
	return id, nil
}

// validateName rejects ids that would resolve outside the models dir.
func validateName(name string) error {
	if name == "" {
		return invalidNameError{name: name, reason: "empty"}
	}
	if name == "." || name == ".." {
		return invalidNameError{name: name, reason: "reserved"}
	}
	if strings.ContainsAny(name, `/\`) {
		return invalidNameError{name: name, reason: "path separator"}
	}
	return nil
}

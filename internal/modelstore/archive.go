package modelstore

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chatd/internal/common/fsutil"
)

// SaveArchive stores an uploaded model archive and unpacks it into a new
// directory named after the model. Supported formats: .zip, .tar, .tar.gz,
// .tgz. An existing model of the same name is rejected, not overwritten.
func (s *Store) SaveArchive(name, filename string, r io.Reader) error {
	if err := validateName(name); err != nil {
		return err
	}
	dest := filepath.Join(s.dir, name)
	if fsutil.PathExists(dest) {
		return invalidNameError{name: name, reason: "already exists"}
	}
	if err := fsutil.EnsureDir(dest); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}

	var err error
	switch {
	case strings.HasSuffix(filename, ".zip"):
		err = unpackZip(dest, r)
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		var gz *gzip.Reader
		gz, err = gzip.NewReader(r)
		if err == nil {
			err = unpackTar(dest, gz)
			gz.Close()
		}
	case strings.HasSuffix(filename, ".tar"):
		err = unpackTar(dest, r)
	default:
		err = invalidNameError{name: filename, reason: "unsupported archive format"}
	}
	if err != nil {
		os.RemoveAll(dest)
		return err
	}
	s.log.Info().Str("model", name).Str("archive", filename).Msg("unpacked uploaded model")
	return nil
}

// securePath joins name under dest and refuses entries that would escape it.
func securePath(dest, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry escapes target dir: %s", name)
	}
	return filepath.Join(dest, cleaned), nil
}

func unpackZip(dest string, r io.Reader) error {
	// archive/zip needs random access; spool the upload to a temp file.
	tmp, err := os.CreateTemp("", "chatd-upload-*.zip")
	if err != nil {
		return fmt.Errorf("spooling archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("spooling archive: %w", err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("reading zip: %w", err)
	}
	for _, f := range zr.File {
		path, err := securePath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := fsutil.EnsureDir(path); err != nil {
				return err
			}
			continue
		}
		if err := fsutil.EnsureParentDir(path); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
		}
		err = writeFile(path, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func unpackTar(dest string, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		path, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsutil.EnsureDir(path); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fsutil.EnsureParentDir(path); err != nil {
				return err
			}
			if err := writeFile(path, tr); err != nil {
				return err
			}
		default:
			// symlinks and devices are not model weights
			continue
		}
	}
}

func writeFile(path string, src io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return out.Close()
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	DBPath     string `json:"db_path" yaml:"db_path" toml:"db_path"`
	ModelsDir  string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogPath    string `json:"log_path" yaml:"log_path" toml:"log_path"`
	AdminToken string `json:"admin_token" yaml:"admin_token" toml:"admin_token"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Backend Backend `json:"backend" yaml:"backend" toml:"backend"`
	CORS    CORS    `json:"cors" yaml:"cors" toml:"cors"`
}

// Backend configures how inference backend processes are spawned and probed.
type Backend struct {
	// Binary invoked as `<bin> serve <model> ...`.
	Bin  string `json:"bin" yaml:"bin" toml:"bin"`
	Host string `json:"host" yaml:"host" toml:"host"`
	// First port handed to a backend; later reloads allocate upward from here.
	BasePort        int     `json:"base_port" yaml:"base_port" toml:"base_port"`
	DefaultModel    string  `json:"default_model" yaml:"default_model" toml:"default_model"`
	DefaultRevision string  `json:"default_revision" yaml:"default_revision" toml:"default_revision"`
	ReadyTimeoutSec int     `json:"ready_timeout_sec" yaml:"ready_timeout_sec" toml:"ready_timeout_sec"`
	GraceTimeoutSec int     `json:"grace_timeout_sec" yaml:"grace_timeout_sec" toml:"grace_timeout_sec"`
	GPUMemUtil      float64 `json:"gpu_mem_util" yaml:"gpu_mem_util" toml:"gpu_mem_util"`
	MaxNumSeqs      int     `json:"max_num_seqs" yaml:"max_num_seqs" toml:"max_num_seqs"`
	TensorParallel  int     `json:"tensor_parallel" yaml:"tensor_parallel" toml:"tensor_parallel"`
	// Appended verbatim to the spawn argv.
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
}

// CORS is opt-in; when disabled no CORS middleware is installed.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

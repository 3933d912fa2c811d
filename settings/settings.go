// Package settings provides read-only defaults consumed at send time.
// Values are layered: built-in defaults, then an optional agentdeck.yaml
// file, then AGENTDECK_* environment variables.
package settings

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults is the resolved settings snapshot.
type Defaults struct {
	// Model is the backend model selector for new sessions.
	Model string `yaml:"model"`
	// PermissionMode controls how the backend gates tool use.
	PermissionMode string `yaml:"permission_mode"`
	// MaxTurns caps agent turns per query; zero means no cap.
	MaxTurns int `yaml:"max_turns"`
	// BaseDir is the default working directory for new sessions.
	BaseDir string `yaml:"base_dir"`
	// CLIPath locates the backend binary.
	CLIPath string `yaml:"cli_path"`
	// DBPath locates the transcript database; empty keeps transcripts
	// in memory.
	DBPath string `yaml:"db_path"`
	// ListenAddr is the HTTP API bind address.
	ListenAddr string `yaml:"listen_addr"`
}

// Provider yields defaults for the orchestration layer.
type Provider interface {
	Defaults() Defaults
}

// Static is a fixed-value provider, handy in tests.
type Static struct {
	D Defaults
}

// Defaults returns the fixed values.
func (s Static) Defaults() Defaults { return s.D }

// FileProvider resolves defaults once at construction.
type FileProvider struct {
	resolved Defaults
}

// Defaults returns the resolved snapshot.
func (p *FileProvider) Defaults() Defaults { return p.resolved }

func builtin() Defaults {
	return Defaults{
		PermissionMode: "acceptEdits",
		CLIPath:        "claude",
		ListenAddr:     "127.0.0.1:8787",
	}
}

// NewFileProvider layers built-ins, the yaml file at path (missing file
// is fine), and AGENTDECK_* environment variables. A .env file in the
// working directory is loaded first if present.
func NewFileProvider(path string) (*FileProvider, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	d := builtin()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, &d); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&d); err != nil {
		return nil, err
	}
	return &FileProvider{resolved: d}, nil
}

func applyEnv(d *Defaults) error {
	if v := os.Getenv("AGENTDECK_MODEL"); v != "" {
		d.Model = v
	}
	if v := os.Getenv("AGENTDECK_PERMISSION_MODE"); v != "" {
		d.PermissionMode = v
	}
	if v := os.Getenv("AGENTDECK_MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTDECK_MAX_TURNS: %w", err)
		}
		d.MaxTurns = n
	}
	if v := os.Getenv("AGENTDECK_BASE_DIR"); v != "" {
		d.BaseDir = v
	}
	if v := os.Getenv("AGENTDECK_CLI_PATH"); v != "" {
		d.CLIPath = v
	}
	if v := os.Getenv("AGENTDECK_DB_PATH"); v != "" {
		d.DBPath = v
	}
	if v := os.Getenv("AGENTDECK_LISTEN_ADDR"); v != "" {
		d.ListenAddr = v
	}
	return nil
}

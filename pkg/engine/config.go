package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/dockerstage/pkg/types"
)

// Environment variables understood by the Docker CLI
const (
	EnvHost       = "DOCKER_HOST"
	EnvTLSVerify  = "DOCKER_TLS_VERIFY"
	EnvCertPath   = "DOCKER_CERT_PATH"
	EnvAPIVersion = "DOCKER_API_VERSION"
)

// ResolveConfig fills the fields cfg leaves empty from the environment and
// then from defaults. Explicit configuration always wins.
func ResolveConfig(cfg types.EngineConfig, getenv func(string) string) types.EngineConfig {
	if getenv == nil {
		getenv = os.Getenv
	}

	if cfg.Host == "" {
		cfg.Host = getenv(EnvHost)
	}
	if cfg.Host == "" {
		cfg.Host = types.DefaultEngineHost
	}

	// Any non-empty value enables verification, matching the Docker CLI
	if !cfg.TLSVerify && strings.TrimSpace(getenv(EnvTLSVerify)) != "" {
		cfg.TLSVerify = true
	}

	if cfg.CertPath == "" {
		cfg.CertPath = getenv(EnvCertPath)
	}
	if cfg.TLSVerify && cfg.CertPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CertPath = filepath.Join(home, ".docker")
		}
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = getenv(EnvAPIVersion)
	}

	return cfg
}

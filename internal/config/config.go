// Package config loads environment configuration for the host and the
// supporting tools. Values come from a .env file in the project root,
// overridden by real environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvConfig collects the environment-driven settings shared across the
// commands. Flag values take precedence over all of these.
type EnvConfig struct {
	ProviderURL  string
	ControllerIP string
	SSHUsername  string
	SSHPassword  string
	Source       string
	SimSeed      int64
	MemoryPath   string
	SessionDir   string
}

var (
	envConfig *EnvConfig
	envLoaded bool
)

// LoadEnvConfig reads the .env file (if present) and the process
// environment. Cached after the first call.
func LoadEnvConfig() *EnvConfig {
	if envLoaded {
		return envConfig
	}

	// Missing .env is fine; the environment alone may carry everything
	_ = godotenv.Load(filepath.Join(findProjectRoot(), ".env"))

	cfg := &EnvConfig{
		ProviderURL:  os.Getenv("PROVIDER_URL"),
		ControllerIP: os.Getenv("MEA_CONTROLLER_IP"),
		SSHUsername:  os.Getenv("MEA_SSH_USERNAME"),
		SSHPassword:  os.Getenv("MEA_SSH_PASSWORD"),
		Source:       os.Getenv("BIOMINER_SOURCE"),
		MemoryPath:   os.Getenv("BIOMINER_MEMORY_PATH"),
		SessionDir:   os.Getenv("BIOMINER_SESSION_DIR"),
	}
	if seed := os.Getenv("BIOMINER_SIM_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.SimSeed = v
		}
	}

	envConfig = cfg
	envLoaded = true
	return cfg
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	// First check CWD for .env file
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	// Then walk up looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// GetControllerIP returns the MEA controller address, or "" when unset.
func GetControllerIP() string {
	return LoadEnvConfig().ControllerIP
}

// GetProviderURL returns the block provider base URL, or "" when unset.
func GetProviderURL() string {
	return LoadEnvConfig().ProviderURL
}

// GetSSHCredentials returns the controller SSH username and password.
func GetSSHCredentials() (string, string) {
	cfg := LoadEnvConfig()
	return cfg.SSHUsername, cfg.SSHPassword
}

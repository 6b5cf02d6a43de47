// Package config resolves relay and agent settings from the environment and
// the optional .codehive.yaml project file. Entrypoints load .env via
// godotenv before calling into here; env always beats the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 4819
	DefaultPersistPath = "./.codehive-rooms.json"
	AgentFileName      = ".codehive.yaml"
)

// RelayConfig is the relay server's settings.
type RelayConfig struct {
	Host        string
	Port        int
	PersistPath string
}

// LoadRelay reads HOST, PORT and CODEHIVE_PERSIST from the environment.
func LoadRelay() RelayConfig {
	cfg := RelayConfig{
		Host:        envOr("HOST", DefaultHost),
		Port:        envIntOr("PORT", DefaultPort),
		PersistPath: envOr("CODEHIVE_PERSIST", DefaultPersistPath),
	}
	return cfg
}

// AgentFile is the optional per-project .codehive.yaml.
type AgentFile struct {
	RelayHost string   `yaml:"relayHost"`
	RelayPort int      `yaml:"relayPort"`
	Name      string   `yaml:"name"`
	Project   string   `yaml:"project"`
	Ignore    []string `yaml:"ignore"`
}

// AgentConfig is the resolved agent settings.
type AgentConfig struct {
	RelayHost   string
	RelayPort   int
	Name        string
	ProjectDir  string
	ExtraIgnore []string
}

// LoadAgent resolves the agent config: defaults, then .codehive.yaml found
// in the project directory, then environment overrides.
func LoadAgent(projectDir string) (AgentConfig, error) {
	cfg := AgentConfig{
		RelayHost:  DefaultHost,
		RelayPort:  DefaultPort,
		ProjectDir: projectDir,
	}
	if cfg.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return cfg, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.ProjectDir = wd
	}

	if file, err := readAgentFile(filepath.Join(cfg.ProjectDir, AgentFileName)); err != nil {
		return cfg, err
	} else if file != nil {
		if file.RelayHost != "" {
			cfg.RelayHost = file.RelayHost
		}
		if file.RelayPort != 0 {
			cfg.RelayPort = file.RelayPort
		}
		if file.Name != "" {
			cfg.Name = file.Name
		}
		if file.Project != "" {
			cfg.ProjectDir = file.Project
		}
		cfg.ExtraIgnore = file.Ignore
	}

	cfg.RelayHost = envOr("RELAY_HOST", cfg.RelayHost)
	cfg.RelayPort = envIntOr("RELAY_PORT", cfg.RelayPort)
	cfg.Name = envOr("DEV_NAME", cfg.Name)
	cfg.ProjectDir = envOr("PROJECT", cfg.ProjectDir)

	if cfg.Name == "" {
		cfg.Name = envOr("USER", "anonymous")
	}
	return cfg, nil
}

func readAgentFile(path string) (*AgentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var file AgentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &file, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

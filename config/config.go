// Package config loads the consoled configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emberworks/consoled/internal/files"
)

// FileName is the config file searched for upward from the working
// directory when no explicit path is given.
const FileName = "consoled.yaml"

type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	RootDir    string        `yaml:"root_dir"`
	Server     ServerConfig  `yaml:"server"`
	Auth       AuthConfig    `yaml:"auth"`
	Console    ConsoleConfig `yaml:"console"`
}

// ServerConfig describes how to launch the managed server process.
type ServerConfig struct {
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	Env              []string `yaml:"env"`
	GamePort         int      `yaml:"game_port"` // 0 picks a free port
	StopCommand      string   `yaml:"stop_command"`
	StopGraceSeconds int      `yaml:"stop_grace_seconds"`
}

// StopGrace is how long to wait after the stop command before killing.
func (s ServerConfig) StopGrace() time.Duration {
	return time.Duration(s.StopGraceSeconds) * time.Second
}

// AuthConfig describes the authentication helper whose output carries
// the sign-in URL.
type AuthConfig struct {
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	CredentialsFile string   `yaml:"credentials_file"`
}

type ConsoleConfig struct {
	BufferLines int `yaml:"buffer_lines"`
}

func defaults() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8321",
		RootDir:    ".",
		Server: ServerConfig{
			StopCommand:      "stop",
			StopGraceSeconds: 30,
		},
		Auth: AuthConfig{
			CredentialsFile: ".downloader-credentials.json",
		},
		Console: ConsoleConfig{
			BufferLines: 2000,
		},
	}
}

// Load reads the config at path, applying defaults for omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Find locates the config file by walking up from dir. Returns "" when
// no config file exists anywhere above dir.
func Find(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	return files.FindUp(FileName, abs)
}

// LoadOrDefault loads the config found from the working directory, or
// returns defaults when there is none.
func LoadOrDefault() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	path := Find(wd)
	if path == "" {
		return defaults(), nil
	}
	return Load(path)
}

// Package config loads the yaml configuration driving every remoterun
// operation. Defaults are applied first, then the file is unmarshalled over
// them, then derived paths and validation run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/remoterun/internal/remote"
)

// Legacy flat directory layout that older configs carried; migrated to the
// project-dir derived layout on load.
const (
	legacyInputsDir  = "/home/ubuntu/asr_inputs"
	legacyOutputsDir = "/home/ubuntu/asr_outputs"
)

type SSH struct {
	Host              string `yaml:"host"`
	User              string `yaml:"user"`
	KeyFile           string `yaml:"keyfile"`
	Port              int    `yaml:"port"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	TestCommand       string `yaml:"test_command"`
}

type Remote struct {
	ProjectDir string `yaml:"project_dir"`
	InputsDir  string `yaml:"inputs_dir"`
	OutputsDir string `yaml:"outputs_dir"`
	LogFile    string `yaml:"log_file"`
	Session    string `yaml:"session"`
}

type Job struct {
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

type Transfer struct {
	UploadDir      string `yaml:"upload_dir"`
	ResultsRoot    string `yaml:"results_root"`
	DownloadGlob   string `yaml:"download_glob"`
	Retries        int    `yaml:"retries"`
	BackoffSec     int    `yaml:"backoff_sec"`
	VerifyManifest *bool  `yaml:"verify_manifest"`
	ManifestName   string `yaml:"manifest_name"`
	RsyncPath      string `yaml:"rsync_path"`
}

type Logging struct {
	LocalRoot         string `yaml:"local_root"`
	Filename          string `yaml:"filename"`
	MirrorIntervalSec int    `yaml:"mirror_interval_sec"`
	Level             string `yaml:"level"`
	Format            string `yaml:"format"`
}

type Cleanup struct {
	RotateRemoteLogs    bool `yaml:"rotate_remote_logs"`
	KeepLogBackups      int  `yaml:"keep_log_backups"`
	RemoveRemoteOutputs bool `yaml:"remove_remote_outputs"`
}

type Config struct {
	SSH      SSH      `yaml:"ssh"`
	Remote   Remote   `yaml:"remote"`
	Job      Job      `yaml:"job"`
	Transfer Transfer `yaml:"transfer"`
	Logging  Logging  `yaml:"logging"`
	Cleanup  Cleanup  `yaml:"cleanup"`

	// Label keys the local log/results directories, typically the cloud
	// instance label. Falls back to the host when empty.
	Label string `yaml:"label"`
}

func defaults() *Config {
	verify := true
	return &Config{
		SSH: SSH{
			Port:              22,
			ConnectTimeoutSec: 10,
			TestCommand:       "echo ok; whoami; hostname; uptime",
		},
		Remote: Remote{
			Session: "remoterun",
		},
		Transfer: Transfer{
			UploadDir:      "./materials",
			ResultsRoot:    "./results",
			Retries:        3,
			BackoffSec:     3,
			VerifyManifest: &verify,
			ManifestName:   "_manifest.txt",
		},
		Logging: Logging{
			LocalRoot:         "./logs",
			Filename:          "run.log",
			MirrorIntervalSec: 3,
			Level:             "info",
			Format:            "text",
		},
		Cleanup: Cleanup{
			KeepLogBackups: 5,
		},
	}
}

// Load reads path, applies defaults, migrates legacy layouts and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize derives the per-project directory layout and expands ~ in the
// key path. Empty or legacy inputs/outputs values follow project_dir.
func (c *Config) normalize() {
	project := strings.TrimRight(strings.TrimSpace(c.Remote.ProjectDir), "/")
	c.Remote.ProjectDir = project

	if project != "" {
		if c.Remote.InputsDir == "" || c.Remote.InputsDir == legacyInputsDir {
			c.Remote.InputsDir = project + "/audio"
		}
		if c.Remote.OutputsDir == "" || c.Remote.OutputsDir == legacyOutputsDir {
			c.Remote.OutputsDir = project + "/output"
		}
		if c.Remote.LogFile == "" {
			c.Remote.LogFile = project + "/logs/run.log"
		}
	}

	if strings.HasPrefix(c.SSH.KeyFile, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			c.SSH.KeyFile = filepath.Join(home, strings.TrimPrefix(c.SSH.KeyFile, "~"))
		}
	}

	if c.Transfer.Retries < 0 {
		c.Transfer.Retries = 0
	}
	if c.Transfer.BackoffSec < 1 {
		c.Transfer.BackoffSec = 1
	}
	if c.Logging.MirrorIntervalSec < 1 {
		c.Logging.MirrorIntervalSec = 3
	}
	if c.Cleanup.KeepLogBackups < 1 {
		c.Cleanup.KeepLogBackups = 1
	}
}

func (c *Config) validate() error {
	if c.SSH.User == "" {
		return fmt.Errorf("config: ssh.user must be set")
	}
	return nil
}

// VerifyManifest resolves the tri-state flag; unset means on.
func (c *Config) VerifyManifest() bool {
	if c.Transfer.VerifyManifest == nil {
		return true
	}
	return *c.Transfer.VerifyManifest
}

// Target builds the immutable remote target for one operation. hostOverride
// (a CLI flag) wins over the configured host.
func (c *Config) Target(hostOverride string) (remote.Target, error) {
	host := hostOverride
	if host == "" {
		host = c.SSH.Host
	}
	t := remote.Target{
		Host:    host,
		User:    c.SSH.User,
		KeyFile: c.SSH.KeyFile,
		Port:    c.SSH.Port,
	}
	if err := t.Validate(); err != nil {
		return remote.Target{}, err
	}
	return t, nil
}

// LabelOr returns the configured label or fallback when unset.
func (c *Config) LabelOr(fallback string) string {
	if c.Label != "" {
		return c.Label
	}
	return fallback
}

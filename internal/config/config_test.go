package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, 10, cfg.SSH.ConnectTimeoutSec)
	assert.Equal(t, "remoterun", cfg.Remote.Session)
	assert.Equal(t, 3, cfg.Transfer.Retries)
	assert.Equal(t, 3, cfg.Transfer.BackoffSec)
	assert.Equal(t, "_manifest.txt", cfg.Transfer.ManifestName)
	assert.True(t, cfg.VerifyManifest())
	assert.Equal(t, 3, cfg.Logging.MirrorIntervalSec)
	assert.Equal(t, 5, cfg.Cleanup.KeepLogBackups)
}

func TestLoadDerivesProjectPaths(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
remote:
  project_dir: /opt/job/
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/job", cfg.Remote.ProjectDir)
	assert.Equal(t, "/opt/job/audio", cfg.Remote.InputsDir)
	assert.Equal(t, "/opt/job/output", cfg.Remote.OutputsDir)
	assert.Equal(t, "/opt/job/logs/run.log", cfg.Remote.LogFile)
}

func TestLoadMigratesLegacyDirs(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
remote:
  project_dir: /opt/job
  inputs_dir: /home/ubuntu/asr_inputs
  outputs_dir: /home/ubuntu/asr_outputs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/job/audio", cfg.Remote.InputsDir)
	assert.Equal(t, "/opt/job/output", cfg.Remote.OutputsDir)
}

func TestLoadKeepsExplicitDirs(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
remote:
  project_dir: /opt/job
  inputs_dir: /data/in
  outputs_dir: /data/out
  log_file: /var/log/job.log
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.Remote.InputsDir)
	assert.Equal(t, "/data/out", cfg.Remote.OutputsDir)
	assert.Equal(t, "/var/log/job.log", cfg.Remote.LogFile)
}

func TestLoadRequiresUser(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh.user")
}

func TestLoadClampsRetryValues(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
transfer:
  retries: -2
  backoff_sec: 0
logging:
  mirror_interval_sec: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Transfer.Retries)
	assert.Equal(t, 1, cfg.Transfer.BackoffSec)
	assert.Equal(t, 3, cfg.Logging.MirrorIntervalSec)
}

func TestVerifyManifestExplicitOff(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
transfer:
  verify_manifest: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.VerifyManifest())
}

func TestTargetHostOverride(t *testing.T) {
	path := writeConfig(t, `
ssh:
  host: 203.0.113.9
  user: ubuntu
  keyfile: /tmp/id_ed25519
  port: 2222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tgt, err := cfg.Target("")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu@203.0.113.9", tgt.Addr())
	assert.Equal(t, 2222, tgt.Port)

	tgt, err = cfg.Target("198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu@198.51.100.4", tgt.Addr())
}

func TestTargetRequiresHost(t *testing.T) {
	path := writeConfig(t, `
ssh:
  user: ubuntu
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = cfg.Target("")
	require.Error(t, err)
}

func TestLabelOr(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "203.0.113.9", cfg.LabelOr("203.0.113.9"))
	cfg.Label = "gpu-worker-1"
	assert.Equal(t, "gpu-worker-1", cfg.LabelOr("203.0.113.9"))
}

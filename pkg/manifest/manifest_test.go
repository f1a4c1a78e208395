package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSpec(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadJobSpec_YAML(t *testing.T) {
	p := writeSpec(t, "job.yaml", `
version: "1.0"
worker:
  command: ./render-frame
  args: ["--quality", "high"]
remote:
  provider: s3
  bucket: render-jobs
  region: us-east-1
  input_prefix: jobs/scene-42/inputs
  output_prefix: jobs/scene-42/outputs
`)

	spec, err := LoadJobSpec(p)
	require.NoError(t, err)
	assert.Equal(t, "./render-frame", spec.Worker.Command)
	assert.Equal(t, []string{"--quality", "high"}, spec.Worker.Args)
	assert.Equal(t, "render-jobs", spec.Remote.Bucket)
	assert.Equal(t, "jobs/scene-42/outputs", spec.Remote.OutputPrefix)
}

func TestLoadJobSpec_JSON(t *testing.T) {
	p := writeSpec(t, "job.json", `{
  "version": "1.0",
  "worker": {"command": "/usr/bin/transcode"},
  "remote": {
    "provider": "local",
    "local_root": "/srv/store",
    "input_prefix": "in",
    "output_prefix": "out"
  }
}`)

	spec, err := LoadJobSpec(p)
	require.NoError(t, err)
	assert.Equal(t, "local", spec.Remote.Provider)
	assert.Equal(t, "/srv/store", spec.Remote.LocalRoot)
}

func TestLoadJobSpec_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing_command", "version: \"1.0\"\nremote:\n  bucket: b\n  input_prefix: i\n  output_prefix: o\n"},
		{"missing_bucket", "worker:\n  command: x\nremote:\n  provider: s3\n  input_prefix: i\n  output_prefix: o\n"},
		{"missing_prefixes", "worker:\n  command: x\nremote:\n  bucket: b\n"},
		{"bad_provider", "worker:\n  command: x\nremote:\n  provider: ftp\n  input_prefix: i\n  output_prefix: o\n"},
		{"bad_version", "version: \"2.0\"\nworker:\n  command: x\nremote:\n  bucket: b\n  input_prefix: i\n  output_prefix: o\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadJobSpec(writeSpec(t, "job.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadJobSpec_NotFound(t *testing.T) {
	_, err := LoadJobSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}

func TestWriteReadRunManifest_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "manifest.json")
	start := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	m := &RunManifest{
		JobID:     "render-20260827-host1-4242",
		Name:      "render",
		StartedAt: start,
		EndedAt:   start.Add(90 * time.Minute),
		ExitCode:  0,
		Outputs:   []Artifact{{Path: "frame-0001.png", SHA256: "ab", Size: 12}},
	}

	require.NoError(t, WriteRunManifest(path, m))

	got, err := ReadRunManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.JobID, got.JobID)
	assert.Equal(t, m.ExitCode, got.ExitCode)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "frame-0001.png", got.Outputs[0].Path)
}

func TestWriteRunManifest_OverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, WriteRunManifest(path, &RunManifest{JobID: "a", ExitCode: 1}))
	require.NoError(t, WriteRunManifest(path, &RunManifest{JobID: "a", ExitCode: 0}))

	got, err := ReadRunManifest(path)
	require.NoError(t, err)
	assert.Zero(t, got.ExitCode)

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCollectArtifacts(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello artifacts")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.out"), content, 0644))

	got, err := CollectArtifacts(dir)
	require.NoError(t, err)
	require.Len(t, got, 1)

	sum := sha256.Sum256(content)
	assert.Equal(t, "sub/a.out", got[0].Path)
	assert.Equal(t, hex.EncodeToString(sum[:]), got[0].SHA256)
	assert.Equal(t, int64(len(content)), got[0].Size)
}

func TestCollectArtifacts_MissingDir(t *testing.T) {
	got, err := CollectArtifacts(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

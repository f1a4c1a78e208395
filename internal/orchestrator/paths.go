package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
)

// RunPaths is the on-disk layout of one run's workspace.
//
//	<workspace_root>/<job_id>/
//	  inputs/            downloaded (and decrypted) input artifacts
//	  results/           worker outputs awaiting upload
//	  tmp/               worker scratch space
//	  logs/              orchestrator and per-unit logs
//	  workers.reg        append-only worker registry
//	  retry_metrics.csv  retry engine metrics rows
//	  manifest.json      run manifest
//	  heartbeat          liveness timestamp, touched by the monitor
type RunPaths struct {
	Root       string
	InputsDir  string
	ResultsDir string
	TmpDir     string
	LogDir     string

	RegistryPath  string
	MetricsPath   string
	ManifestPath  string
	HeartbeatPath string
}

// NewRunPaths lays out the workspace for one job id.
func NewRunPaths(workspaceRoot, jobID string) RunPaths {
	root := filepath.Join(workspaceRoot, jobID)
	return RunPaths{
		Root:          root,
		InputsDir:     filepath.Join(root, "inputs"),
		ResultsDir:    filepath.Join(root, "results"),
		TmpDir:        filepath.Join(root, "tmp"),
		LogDir:        filepath.Join(root, "logs"),
		RegistryPath:  filepath.Join(root, "workers.reg"),
		MetricsPath:   filepath.Join(root, "retry_metrics.csv"),
		ManifestPath:  filepath.Join(root, "manifest.json"),
		HeartbeatPath: filepath.Join(root, "heartbeat"),
	}
}

// Create makes every workspace directory.
func (p RunPaths) Create() error {
	for _, dir := range []string{p.InputsDir, p.ResultsDir, p.TmpDir, p.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

// Package manifest handles the two structured records at the edges of a
// run: the job definition the operator supplies, and the run manifest the
// orchestrator writes best-effort during Finalize.
//
// A job definition is a YAML or JSON file:
//
//	version: "1.0"
//	worker:
//	  command: ./render-frame
//	  args: ["--quality", "high"]
//	remote:
//	  provider: s3
//	  bucket: render-jobs
//	  input_prefix: jobs/scene-42/inputs
//	  output_prefix: jobs/scene-42/outputs
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// JobSpec is the validated job definition.
type JobSpec struct {
	// Version is the definition schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Worker describes the fan-out unit command.
	Worker WorkerSpec `json:"worker" yaml:"worker"`

	// Remote locates the job's inputs and outputs.
	Remote RemoteSpec `json:"remote" yaml:"remote"`
}

// WorkerSpec is the command executed once per work unit. The unit's input
// path is appended as the final argument.
type WorkerSpec struct {
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// RemoteSpec locates remote storage for the job.
type RemoteSpec struct {
	// Provider selects the store: "s3" or "local".
	Provider string `json:"provider" yaml:"provider"`

	// Bucket is the S3 bucket (s3 provider only).
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`

	// Endpoint is a custom endpoint for S3-compatible stores. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Region is the AWS region. Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// LocalRoot is the backing directory (local provider only).
	LocalRoot string `json:"local_root,omitempty" yaml:"local_root,omitempty"`

	// InputPrefix holds the job's input artifacts.
	InputPrefix string `json:"input_prefix" yaml:"input_prefix"`

	// OutputPrefix receives result artifacts and logs.
	OutputPrefix string `json:"output_prefix" yaml:"output_prefix"`
}

// LoadJobSpec reads and validates a job definition. Format is chosen by
// extension: .yaml/.yml or .json; unrecognized extensions try YAML first.
func LoadJobSpec(path string) (*JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job definition not found: %s", path)
		}
		return nil, fmt.Errorf("read job definition: %w", err)
	}

	var spec JobSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse job definition: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &spec); err != nil {
			if jerr := json.Unmarshal(data, &spec); jerr != nil {
				return nil, fmt.Errorf("parse job definition: %w", err)
			}
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks required fields and applies defaults.
func (s *JobSpec) Validate() error {
	if s.Version == "" {
		s.Version = "1.0"
	}
	if s.Version != "1.0" {
		return fmt.Errorf("unsupported job definition version: %s", s.Version)
	}
	if strings.TrimSpace(s.Worker.Command) == "" {
		return fmt.Errorf("worker.command is required")
	}

	if s.Remote.Provider == "" {
		s.Remote.Provider = "s3"
	}
	switch s.Remote.Provider {
	case "s3":
		if s.Remote.Bucket == "" {
			return fmt.Errorf("remote.bucket is required for the s3 provider")
		}
	case "local":
		if s.Remote.LocalRoot == "" {
			return fmt.Errorf("remote.local_root is required for the local provider")
		}
	default:
		return fmt.Errorf("unsupported remote provider: %s", s.Remote.Provider)
	}

	if s.Remote.InputPrefix == "" {
		return fmt.Errorf("remote.input_prefix is required")
	}
	if s.Remote.OutputPrefix == "" {
		return fmt.Errorf("remote.output_prefix is required")
	}
	return nil
}

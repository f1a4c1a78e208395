package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/internal/config"
	"github.com/tidelinehq/spotrun/internal/observability"
	"github.com/tidelinehq/spotrun/internal/orchestrator"
	"github.com/tidelinehq/spotrun/pkg/crypt"
	"github.com/tidelinehq/spotrun/pkg/manifest"
	"github.com/tidelinehq/spotrun/pkg/remote"
)

var runCmd = &cobra.Command{
	Use:   "run <cleanup-mode> <job-name>",
	Short: "Execute a job and tear the workspace down per the cleanup mode",
	Long: `Execute the job described by the --job definition file.

The cleanup mode decides what survives locally after the run:

  keep    leave every local artifact in place
  output  remove downloaded inputs and scratch space
  gpg     remove everything except encrypted result artifacts
  all     remove all local state, and power the host off on success

The process exits with the job's own status: 0 on success, the failing
worker's code on failure, 130/143 on SIGINT/SIGTERM, and 199 when a cloud
interruption notice ended the run early.`,
	Args: cobra.ExactArgs(2),
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	mode, err := orchestrator.ParseCleanupMode(args[0])
	if err != nil {
		return err
	}
	jobName := args[1]
	if jobName == "" {
		return fmt.Errorf("job name must not be empty")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	spec, err := manifest.LoadJobSpec(jobFile)
	if err != nil {
		return err
	}

	job := orchestrator.NewJob(jobName, mode, cfg.Encrypt.Enabled)
	paths := orchestrator.NewRunPaths(cfg.WorkspaceRoot, job.ID)
	if err := paths.Create(); err != nil {
		return err
	}

	log, err := observability.NewRunLogger(paths.LogDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := buildStore(ctx, cfg, spec)
	if err != nil {
		return err
	}

	var crypto crypt.Runner
	if cfg.Encrypt.Enabled {
		crypto = &crypt.GPG{Recipient: cfg.Encrypt.Recipient, Log: log}
	}

	orc, err := orchestrator.New(cfg, spec, job, store, crypto, log)
	if err != nil {
		return err
	}

	out := orc.Run(ctx)
	log.Info("run finished",
		zap.String("job_id", job.ID),
		zap.String("outcome", out.Kind.String()),
		zap.Int("exit_code", out.Code))

	exitCode = out.Code
	return nil
}

// buildStore constructs the remote store named by the job definition.
func buildStore(ctx context.Context, cfg *config.Config, spec *manifest.JobSpec) (remote.Store, error) {
	switch spec.Remote.Provider {
	case "local":
		return remote.NewLocalStore(spec.Remote.LocalRoot)
	case "s3":
		return remote.NewS3Store(ctx, remote.S3Config{
			Bucket:           spec.Remote.Bucket,
			Region:           spec.Remote.Region,
			Endpoint:         spec.Remote.Endpoint,
			Profile:          cfg.Remote.Profile,
			AccessKeyID:      os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
			ForcePathStyle:   cfg.Remote.ForcePathStyle,
			UploadRatePerSec: cfg.Remote.UploadRatePerSec,
		})
	default:
		return nil, fmt.Errorf("unsupported remote provider: %s", spec.Remote.Provider)
	}
}

// Package crypt wraps the job's opaque crypto operation. The orchestrator
// only sees exit statuses; the actual cipher tooling stays behind Runner.
package crypt

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Suffix marks encrypted artifacts.
const Suffix = ".gpg"

// Runner is the opaque crypto operation. Methods return an exit status in
// the shared taxonomy: 0 on success, tool exit code otherwise. Whether a
// Runner is present at all is a constructor-time decision of the caller;
// a nil Runner means encryption is disabled.
type Runner interface {
	// EncryptDir encrypts every plaintext file under dir in place,
	// producing siblings with Suffix appended.
	EncryptDir(ctx context.Context, dir string) int

	// DecryptDir decrypts every Suffix file under dir in place, producing
	// siblings with Suffix stripped.
	DecryptDir(ctx context.Context, dir string) int
}

// GPG runs the gpg binary over artifact directories.
type GPG struct {
	// Recipient is the key id or email encrypted to.
	Recipient string

	// Binary overrides the gpg executable path. Empty means "gpg".
	Binary string

	Log *zap.Logger
}

var _ Runner = (*GPG)(nil)

func (g *GPG) binary() string {
	if g.Binary != "" {
		return g.Binary
	}
	return "gpg"
}

func (g *GPG) logger() *zap.Logger {
	if g.Log != nil {
		return g.Log
	}
	return zap.NewNop()
}

// EncryptDir encrypts each non-Suffix file under dir. The first failing
// batch's exit status is returned; remaining files are still attempted so
// one stuck artifact cannot block the rest.
func (g *GPG) EncryptDir(ctx context.Context, dir string) int {
	final := 0
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(p, Suffix) {
			return nil
		}
		args := []string{"--batch", "--yes", "--recipient", g.Recipient, "--output", p + Suffix, "--encrypt", p}
		if code := g.run(ctx, args); code != 0 && final == 0 {
			final = code
		}
		return nil
	})
	return final
}

// DecryptDir decrypts each Suffix file under dir.
func (g *GPG) DecryptDir(ctx context.Context, dir string) int {
	final := 0
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, Suffix) {
			return nil
		}
		args := []string{"--batch", "--yes", "--output", strings.TrimSuffix(p, Suffix), "--decrypt", p}
		if code := g.run(ctx, args); code != 0 && final == 0 {
			final = code
		}
		return nil
	})
	return final
}

func (g *GPG) run(ctx context.Context, args []string) int {
	cmd := exec.CommandContext(ctx, g.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return 0
	}

	g.logger().Warn("crypto operation failed",
		zap.Strings("args", args),
		zap.ByteString("output", out),
		zap.Error(err))

	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode()
	}
	return 1
}

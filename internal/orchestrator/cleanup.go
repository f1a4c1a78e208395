package orchestrator

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/tidelinehq/spotrun/pkg/crypt"
)

// encryptedPattern matches the artifacts the gpg cleanup mode preserves.
const encryptedPattern = "**/*" + crypt.Suffix

// cleanupArtifacts applies the job's cleanup mode to the workspace.
//
// keep leaves everything; output removes inputs and scratch; gpg
// additionally removes logs and every plaintext result, keeping only the
// encrypted artifacts; all removes the whole workspace. The full wipe is
// gated on the result upload having succeeded; when it has not, the run
// degrades to the output mode so the only copy of the results survives.
func (o *Orchestrator) cleanupArtifacts(uploadOK bool) {
	mode := o.job.CleanupMode
	if mode == CleanupAll && !uploadOK {
		o.log.Warn("results were not uploaded; preserving them despite cleanup mode 'all'")
		mode = CleanupOutput
	}

	switch mode {
	case CleanupKeep:
		o.log.Info("cleanup: keeping all local artifacts")
		return

	case CleanupOutput:
		o.removeAll(o.paths.InputsDir, o.paths.TmpDir)

	case CleanupGPG:
		o.removeAll(o.paths.InputsDir, o.paths.TmpDir, o.paths.LogDir, o.logArchivePath(),
			o.paths.HeartbeatPath, o.paths.MetricsPath, o.paths.ManifestPath)
		o.prunePlaintextResults()

	case CleanupAll:
		o.removeAll(o.paths.Root)
		return
	}

	o.log.Info("cleanup complete", zap.String("mode", string(mode)))
}

func (o *Orchestrator) removeAll(paths ...string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			o.log.Warn("cleanup remove", zap.String("path", p), zap.Error(err))
		}
	}
}

// prunePlaintextResults deletes every result file that is not an encrypted
// artifact, then drops directories left empty.
func (o *Orchestrator) prunePlaintextResults() {
	_ = filepath.WalkDir(o.paths.ResultsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(o.paths.ResultsDir, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(encryptedPattern, filepath.ToSlash(rel)); ok {
			return nil
		}
		if err := os.Remove(p); err != nil {
			o.log.Warn("cleanup remove", zap.String("path", p), zap.Error(err))
		}
		return nil
	})
	pruneEmptyDirs(o.paths.ResultsDir)
}

// pruneEmptyDirs removes empty directories bottom-up, keeping root itself.
func pruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i]) // fails (and stays) when non-empty
	}
}

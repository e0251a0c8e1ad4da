package sandbox

import (
	"context"
	"io"
	"os"
	"path/filepath"

	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// ArtifactSource opens bot artifacts and their support files by name.
// Missing names report appErr.ArtifactNotFound.
type ArtifactSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// WorkspaceConfig describes where and how match scratch directories are laid out.
type WorkspaceConfig struct {
	Root string `yaml:"root" env:"WORKSPACE_ROOT"`
	// ArtifactName names the executable inside the workspace; defaults to "{hash}".
	ArtifactName string `yaml:"artifactName"`
	// SupportFiles are optional companions copied next to the artifact, e.g. "{hash}.runtimeconfig.json".
	SupportFiles []string `yaml:"supportFiles"`
}

// Workspace is a per-match scratch directory holding both bots' artifacts.
type Workspace struct {
	Dir   string
	names map[string]string
}

// ArtifactName returns the workspace file name of hash's artifact.
func (w *Workspace) ArtifactName(hash string) string {
	return w.names[hash]
}

// PrepareWorkspace creates a fresh directory and copies each distinct hash's artifact
// and any support files into it.
func PrepareWorkspace(ctx context.Context, cfg WorkspaceConfig, src ArtifactSource, hashes ...string) (*Workspace, error) {
	if cfg.ArtifactName == "" {
		cfg.ArtifactName = "{hash}"
	}
	root := cfg.Root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace root")
	}
	dir, err := os.MkdirTemp(root, "match-*")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "create workspace")
	}
	// The sandboxed process may run as another user.
	if err := os.Chmod(dir, 0755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.WorkspaceError, "chmod workspace")
	}

	ws := &Workspace{Dir: dir, names: make(map[string]string)}
	for _, hash := range hashes {
		if _, ok := ws.names[hash]; ok {
			continue
		}
		vars := map[string]string{"hash": hash}
		name := filepath.Base(Expand(cfg.ArtifactName, vars))
		if err := copyArtifact(ctx, src, hash, filepath.Join(dir, name), 0755); err != nil {
			ws.Remove(ctx)
			return nil, err
		}
		ws.names[hash] = name

		for _, tmpl := range cfg.SupportFiles {
			support := filepath.Base(Expand(tmpl, vars))
			err := copyArtifact(ctx, src, support, filepath.Join(dir, support), 0644)
			if appErr.Is(err, appErr.ArtifactNotFound) {
				logger.Debug(ctx, "support file not present", zap.String("name", support))
				continue
			}
			if err != nil {
				ws.Remove(ctx)
				return nil, err
			}
		}
	}
	return ws, nil
}

func copyArtifact(ctx context.Context, src ArtifactSource, name, dst string, mode os.FileMode) error {
	r, err := src.Open(ctx, name)
	if err != nil {
		if appErr.Is(err, appErr.ArtifactNotFound) {
			return err
		}
		return appErr.Wrapf(err, appErr.WorkspaceError, "open artifact %s", name)
	}
	defer r.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "create %s", dst)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return appErr.Wrapf(err, appErr.WorkspaceError, "copy artifact %s", name)
	}
	if err := f.Close(); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceError, "close %s", dst)
	}
	return nil
}

// Remove deletes the workspace. Failures are logged.
func (w *Workspace) Remove(ctx context.Context) {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		logger.Warn(ctx, "failed to remove workspace", zap.String("dir", w.Dir), zap.Error(err))
	}
}

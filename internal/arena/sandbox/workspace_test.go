package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appErr "botarena/pkg/errors"
)

type mapSource struct {
	files map[string]string
	fail  error
}

func (m *mapSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	data, ok := m.files[name]
	if !ok {
		return nil, appErr.NotFoundError(appErr.ArtifactNotFound, "artifact", name)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestPrepareWorkspaceCopiesArtifacts(t *testing.T) {
	t.Parallel()
	src := &mapSource{files: map[string]string{
		"aaa":                    "white-bot",
		"bbb":                    "black-bot",
		"aaa.runtimeconfig.json": "{}",
	}}
	cfg := WorkspaceConfig{Root: t.TempDir(), SupportFiles: []string{"{hash}.runtimeconfig.json"}}

	ws, err := PrepareWorkspace(context.Background(), cfg, src, "aaa", "bbb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ws.Remove(context.Background())

	if !strings.HasPrefix(filepath.Base(ws.Dir), "match-") {
		t.Fatalf("unexpected workspace dir %q", ws.Dir)
	}
	info, err := os.Stat(filepath.Join(ws.Dir, ws.ArtifactName("aaa")))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Fatalf("artifact should be executable, mode %v", info.Mode())
	}
	data, _ := os.ReadFile(filepath.Join(ws.Dir, "bbb"))
	if string(data) != "black-bot" {
		t.Fatalf("unexpected artifact content %q", data)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "aaa.runtimeconfig.json")); err != nil {
		t.Fatalf("support file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "bbb.runtimeconfig.json")); !os.IsNotExist(err) {
		t.Fatalf("absent support file should be skipped, got %v", err)
	}
}

func TestPrepareWorkspaceSelfPlayCopiesOnce(t *testing.T) {
	t.Parallel()
	src := &mapSource{files: map[string]string{"same": "bot"}}
	cfg := WorkspaceConfig{Root: t.TempDir(), ArtifactName: "{hash}.dll"}

	ws, err := PrepareWorkspace(context.Background(), cfg, src, "same", "same")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ws.Remove(context.Background())
	if ws.ArtifactName("same") != "same.dll" {
		t.Fatalf("unexpected name %q", ws.ArtifactName("same"))
	}
	entries, _ := os.ReadDir(ws.Dir)
	if len(entries) != 1 {
		t.Fatalf("expected %d, got %d", 1, len(entries))
	}
}

func TestPrepareWorkspaceMissingArtifactCleansUp(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	src := &mapSource{files: map[string]string{"aaa": "bot"}}

	_, err := PrepareWorkspace(context.Background(), WorkspaceConfig{Root: root}, src, "aaa", "missing")
	if !appErr.Is(err, appErr.ArtifactNotFound) {
		t.Fatalf("expected artifact not found, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("expected workspace to be removed, found %d entries", len(entries))
	}
}

func TestPrepareWorkspaceSourceFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("storage offline")
	_, err := PrepareWorkspace(context.Background(), WorkspaceConfig{Root: t.TempDir()}, &mapSource{fail: boom}, "aaa")
	if !errors.Is(err, boom) || !appErr.Is(err, appErr.WorkspaceError) {
		t.Fatalf("expected wrapped workspace error, got %v", err)
	}
}

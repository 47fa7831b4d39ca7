package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecBackend_Success(t *testing.T) {
	backend := &ExecBackend{Binary: writeScript(t, `echo "$1/$2 for $3"`)}

	detail, err := backend.Run(context.Background(), "sess-1", KindBuild, "compile")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if detail != "build/compile for sess-1" {
		t.Errorf("detail = %q", detail)
	}
}

func TestExecBackend_WarningExit(t *testing.T) {
	backend := &ExecBackend{Binary: writeScript(t, "echo flaky; exit 3")}

	detail, err := backend.Run(context.Background(), "sess-1", KindTest, "unit")
	if !errors.Is(err, ErrWarning) {
		t.Fatalf("err = %v, want ErrWarning", err)
	}
	if detail != "flaky" {
		t.Errorf("detail = %q, want flaky", detail)
	}
}

func TestExecBackend_Failure(t *testing.T) {
	backend := &ExecBackend{Binary: writeScript(t, "echo boom >&2; exit 1")}

	_, err := backend.Run(context.Background(), "sess-1", KindBuild, "fetch")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrWarning) {
		t.Fatal("exit 1 must not map to warning")
	}
}

func TestExecBackend_WorkDir(t *testing.T) {
	dir := t.TempDir()
	backend := &ExecBackend{Binary: writeScript(t, "pwd"), WorkDir: dir}

	detail, err := backend.Run(context.Background(), "sess-1", KindBuild, "fetch")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Resolve symlinks: on some systems TempDir is behind /private or
	// similar.
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if detail != dir && detail != resolved {
		t.Errorf("pwd = %q, want %q", detail, dir)
	}
}

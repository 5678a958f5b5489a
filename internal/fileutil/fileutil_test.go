package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileLimited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		maxSize     int64
		errContains string
	}{
		{name: "small state file", content: `{"TICKET_ID":"T1"}`, maxSize: 100},
		{name: "exact limit", content: "12345", maxSize: 5},
		{name: "over limit", content: "this content is too long", maxSize: 10, errContains: "exceeds maximum"},
		{name: "empty", content: "", maxSize: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "state.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("failed to create test file: %v", err)
			}

			data, err := ReadFileLimited(path, tt.maxSize)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.content {
				t.Errorf("content mismatch: got %q, want %q", data, tt.content)
			}
		})
	}
}

func TestReadFileLimited_NotExist(t *testing.T) {
	t.Parallel()

	_, err := ReadFileLimited(filepath.Join(t.TempDir(), "missing.json"), 100)
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestAtomicWriteFile_ReplacesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := AtomicWriteFile(path, []byte("initial"), 0o600); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0o600); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(data) != "updated" {
		t.Errorf("got %q, want %q", data, "updated")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions: got %o, want 600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}

func TestAtomicWriteFile_RenameFailureCleansUp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ops := defaultFSOps()
	ops.rename = func(string, string) error { return errors.New("cross-device link") }

	err := atomicWriteFile(filepath.Join(dir, "state.json"), []byte("x"), 0o600, ops)
	if err == nil || !strings.Contains(err.Error(), "failed to rename") {
		t.Fatalf("expected rename error, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

func TestAtomicWriteFile_InvalidDirectory(t *testing.T) {
	t.Parallel()

	if err := AtomicWriteFile("/nonexistent/dir/state.json", []byte("x"), 0o600); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestAppendFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "github_output")
	if err := AppendFile(path, []byte("a=1\n"), 0o600); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := AppendFile(path, []byte("b=2\n"), 0o600); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "a=1\nb=2\n" {
		t.Errorf("got %q", data)
	}
}

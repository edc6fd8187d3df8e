package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFramePath(t *testing.T) {
	root := t.TempDir()
	captureDir := filepath.Join(root, "capture")
	outsideDir := filepath.Join(root, "outside")
	for _, d := range []string{captureDir, outsideDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(captureDir, "frame_0001.jpg"), []byte("x"), 0644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outsideDir, "secret.jpg"), []byte("x"), 0644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing frame", filepath.Join(captureDir, "frame_0001.jpg"), false},
		{"missing frame inside", filepath.Join(captureDir, "frame_0002.jpg"), false},
		{"nested frame", filepath.Join(captureDir, "sub", "frame.jpg"), false},
		{"dotdot escape", filepath.Join(captureDir, "..", "outside", "secret.jpg"), true},
		{"relative traversal", "../../../etc/passwd", true},
		{"sibling directory", filepath.Join(outsideDir, "secret.jpg"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFramePath(tt.path, captureDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFramePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFramePathSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	captureDir := filepath.Join(root, "capture")
	outsideDir := filepath.Join(root, "outside")
	for _, d := range []string{captureDir, outsideDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(outsideDir, "secret.jpg"), []byte("x"), 0644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}

	// A listing entry that is itself a symlink out of the capture tree.
	link := filepath.Join(captureDir, "frame_0001.jpg")
	if err := os.Symlink(filepath.Join(outsideDir, "secret.jpg"), link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := ValidateFramePath(link, captureDir); err == nil {
		t.Error("symlinked frame escaping the capture directory was accepted")
	}

	// A symlinked subdirectory must not smuggle paths to files that do
	// not exist yet.
	dirLink := filepath.Join(captureDir, "sub")
	if err := os.Symlink(outsideDir, dirLink); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	if err := ValidateFramePath(filepath.Join(dirLink, "new.jpg"), captureDir); err == nil {
		t.Error("path under symlinked subdirectory was accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"scene-3", "scene-3"},
		{"run_2026.08.31", "run_2026.08.31"},
		{"a b/c:d", "a_b_c_d"},
		{"///", "unknown"},
		{"", "unknown"},
		{"..hidden..", "hidden"},
		{"später", "sp_ter"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := SanitizeFilename(strings.Repeat("x", 500)); len(got) > 128 {
		t.Errorf("SanitizeFilename did not cap length, got %d bytes", len(got))
	}
}

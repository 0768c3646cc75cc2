package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gluk-w/termgate/internal/config"
)

func writeLines(t *testing.T, n int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "termgate.log")
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	config.Cfg.LogPath = path
}

func TestReadTailFewerLinesThanRequested(t *testing.T) {
	writeLines(t, 3)
	got, err := ReadTail(10)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "line 1\nline 2\nline 3" {
		t.Errorf("got %q", got)
	}
}

func TestReadTailWrapsRing(t *testing.T) {
	writeLines(t, 12)
	got, err := ReadTail(5)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "line 8\nline 9\nline 10\nline 11\nline 12" {
		t.Errorf("got %q", got)
	}
}

func TestReadTailMissingFile(t *testing.T) {
	config.Cfg.LogPath = filepath.Join(t.TempDir(), "absent.log")
	got, err := ReadTail(5)
	if err != nil {
		t.Fatalf("ReadTail: %v", err)
	}
	if got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8083")
	p, err := Port("TEST_PORT", "1")
	if err != nil || p != "8083" {
		t.Fatalf("expected 8083, got %q (%v)", p, err)
	}

	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestIntBoolDuration(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "x")
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_DUR_SECS", "30")

	if got := Int("TEST_INT", 1); got != 42 {
		t.Fatalf("Int: got %d", got)
	}
	if got := Int("TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback: got %d", got)
	}
	if !Bool("TEST_BOOL", false) {
		t.Fatal("Bool: expected true")
	}
	if Bool("TEST_UNSET_BOOL", false) {
		t.Fatal("Bool: expected fallback false")
	}
	if got := Duration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("Duration: got %s", got)
	}
	if got := Duration("TEST_DUR_SECS", time.Second); got != 30*time.Second {
		t.Fatalf("Duration seconds: got %s", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("TEST_LIST", " a, ,b ,c")
	got := List("TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SLOTBOOK_DOTENV_TEST=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("SLOTBOOK_DOTENV_TEST") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("SLOTBOOK_DOTENV_TEST"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}

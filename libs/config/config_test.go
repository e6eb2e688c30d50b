package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8084")
	p, err := Port("TEST_PORT", "8080")
	if err != nil || p != "8084" {
		t.Fatalf("expected 8084, got %q (err=%v)", p, err)
	}

	t.Setenv("TEST_PORT", "99999")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("TEST_UNSET_DURATION", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s (err=%v)", d, err)
	}

	t.Setenv("TEST_DURATION", "250ms")
	d, err = Duration("TEST_DURATION", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s (err=%v)", d, err)
	}

	t.Setenv("TEST_DURATION", "soon")
	if _, err := Duration("TEST_DURATION", time.Second); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	n, err := Int("TEST_INT", 1)
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d (err=%v)", n, err)
	}
	t.Setenv("TEST_INT", "forty")
	if _, err := Int("TEST_INT", 1); err == nil {
		t.Fatal("expected error for malformed int")
	}

	t.Setenv("TEST_BOOL", "yes")
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if Bool("TEST_BOOL", false) {
		t.Fatal("expected fallback false for unrecognized value")
	}
}

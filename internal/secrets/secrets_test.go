package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	sealed, err := s.Seal("admin-password")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("Seal() = %q, missing prefix", sealed)
	}
	if strings.Contains(sealed, "admin-password") {
		t.Fatal("sealed value leaks plaintext")
	}

	// A second sealer with the same passphrase but its own salt must still
	// open values sealed by the first.
	other, err := NewSealer("correct horse")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	got, err := other.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "admin-password" {
		t.Errorf("Open() = %q, want %q", got, "admin-password")
	}
}

func TestSealer_WrongPassphrase(t *testing.T) {
	a, _ := NewSealer("one")
	b, _ := NewSealer("two")

	sealed, err := a.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected decrypt error with wrong passphrase")
	}
}

func TestSealer_Disabled(t *testing.T) {
	s, err := NewSealer("")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	out, err := s.Seal("plain")
	if err != nil || out != "plain" {
		t.Fatalf("Seal() = %q, %v; want passthrough", out, err)
	}

	sealer, _ := NewSealer("k")
	sealed, _ := sealer.Seal("x")
	if _, err := s.Open(sealed); !errors.Is(err, ErrNoPassphrase) {
		t.Errorf("Open() error = %v, want ErrNoPassphrase", err)
	}
}

func TestSealer_Malformed(t *testing.T) {
	s, _ := NewSealer("k")
	if _, err := s.Open(prefix + "!!!"); !errors.Is(err, ErrMalformed) {
		t.Errorf("Open() error = %v, want ErrMalformed", err)
	}
}

func TestSealer_EmptyAndAlreadySealed(t *testing.T) {
	s, _ := NewSealer("k")

	if out, _ := s.Seal(""); out != "" {
		t.Errorf("Seal(\"\") = %q, want empty", out)
	}
	once, _ := s.Seal("v")
	twice, _ := s.Seal(once)
	if once != twice {
		t.Error("sealing a sealed value should be a no-op")
	}
}

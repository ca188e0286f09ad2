package fifo

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFlagLifecycle(t *testing.T) {
	flag := NewFlag(filepath.Join(t.TempDir(), "ready"))

	if flag.Exists() {
		t.Fatal("flag exists before Set()")
	}
	if err := flag.Set(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !flag.Exists() {
		t.Fatal("flag missing after Set()")
	}
	if err := flag.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if flag.Exists() {
		t.Fatal("flag still present after Clear()")
	}
}

func TestFlagClearIdempotent(t *testing.T) {
	flag := NewFlag(filepath.Join(t.TempDir(), "ready"))

	if err := flag.Clear(); err != nil {
		t.Fatalf("Clear() of absent flag error = %v", err)
	}
	if err := flag.Set(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := flag.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := flag.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
}

func TestFlagSetIdempotent(t *testing.T) {
	flag := NewFlag(filepath.Join(t.TempDir(), "ready"))

	if err := flag.Set(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := flag.Set(); err != nil {
		t.Fatalf("second Set() error = %v", err)
	}
}

func TestWaitForFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ready")

	if WaitForFlag(path, 150*time.Millisecond) {
		t.Error("WaitForFlag() = true for absent flag")
	}

	flag := NewFlag(path)
	go func() {
		time.Sleep(100 * time.Millisecond)
		flag.Set()
	}()
	if !WaitForFlag(path, 2*time.Second) {
		t.Error("WaitForFlag() = false, flag appeared within deadline")
	}
}

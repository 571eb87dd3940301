package utils

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")

	if err := AtomicWriteFile(path, []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("Content = %s", data)
	}

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("Leftover temp file: %s", entry.Name())
		}
	}
}

func TestAtomicWriteFile_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")

	if err := AtomicWriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("Content = %s, expected second", data)
	}
}

func TestHeartbeat_Beat(t *testing.T) {
	logger := logx.NewLogger("error", "test")
	path := filepath.Join(t.TempDir(), "heartbeat")
	hb := NewHeartbeat(path, time.Minute, logger)

	if err := hb.Beat(); err != nil {
		t.Fatalf("Beat failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.HasPrefix(string(data), strconv.Itoa(os.Getpid())+" ") {
		t.Errorf("Heartbeat record = %q, expected pid prefix", data)
	}
}

func TestHeartbeat_StopRemovesFile(t *testing.T) {
	logger := logx.NewLogger("error", "test")
	path := filepath.Join(t.TempDir(), "heartbeat")
	hb := NewHeartbeat(path, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := hb.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Heartbeat file missing after Start: %v", err)
	}

	hb.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Heartbeat file still present after Stop")
	}

	// Second Stop is a no-op
	hb.Stop()
}

package utils

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// Heartbeat periodically rewrites a liveness file so external watchdogs can
// detect a hung daemon. Each beat replaces the file atomically.
type Heartbeat struct {
	path     string
	interval time.Duration
	logger   *logx.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHeartbeat creates a heartbeat writer. Intervals below one second are
// raised to one second.
func NewHeartbeat(path string, interval time.Duration, logger *logx.Logger) *Heartbeat {
	if interval < time.Second {
		interval = time.Second
	}
	return &Heartbeat{
		path:     path,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start writes an initial beat and begins the periodic rewrite loop
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("heartbeat is already running")
	}
	h.running = true
	h.mu.Unlock()

	if err := h.Beat(); err != nil {
		return err
	}

	go h.loop(ctx)
	return nil
}

// Stop stops the heartbeat loop and removes the liveness file
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}

	h.running = false
	close(h.stopCh)

	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove heartbeat file", "path", h.path, "error", err)
	}
}

// Beat writes one liveness record
func (h *Heartbeat) Beat() error {
	payload := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := AtomicWriteFile(h.path, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("heartbeat write: %w", err)
	}
	return nil
}

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			if err := h.Beat(); err != nil {
				h.logger.Warn("Heartbeat write failed", "error", err)
			}
		}
	}
}

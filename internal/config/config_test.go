package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transfers.DeletionDelay != 15*24*time.Hour {
		t.Errorf("Expected default deletion delay of 15 days, got %v", cfg.Transfers.DeletionDelay)
	}
	if cfg.Transfers.DeletionMinDelay != TransferDeletionMinDelay {
		t.Errorf("Expected min delay %v, got %v", TransferDeletionMinDelay, cfg.Transfers.DeletionMinDelay)
	}
	if cfg.Bus.Kind != "memory" {
		t.Errorf("Expected memory bus by default, got %q", cfg.Bus.Kind)
	}
}

func TestLoadClampsDeletionDelay(t *testing.T) {
	t.Setenv("TRANSFER_DELETION_DELAY", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transfers.DeletionDelay != TransferDeletionMinDelay {
		t.Errorf("Expected deletion delay clamped to %v, got %v", TransferDeletionMinDelay, cfg.Transfers.DeletionDelay)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SCHEDULER_POLLING_INTERVAL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid duration")
	}
}

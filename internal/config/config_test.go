package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 0.25, cfg.Resolve.MetadataFraction)
	require.Equal(t, []string{"pixeldrain", "gofile"}, cfg.Providers.Enabled)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("STREAMGW_PORT", "9999")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_SupervisorWorkerSizingDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Supervisor.Workers)
	require.Equal(t, 4, cfg.Supervisor.IOMultiplier)
	require.Equal(t, 2048, cfg.Supervisor.MemoryBudgetMB)
	require.Equal(t, 128, cfg.Supervisor.PerWorkerMB)
	require.Equal(t, 32, cfg.Supervisor.ConfigMax)
}

func TestProviderReloader_NoPathKeepsSeededDefaults(t *testing.T) {
	r := NewProviderReloader("", []string{"pixeldrain", "gofile"}, nil)
	require.NoError(t, r.Start(context.Background()))
	require.Len(t, r.Enabled(), 2)
}

func TestProviderReloader_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.txt")
	if err := os.WriteFile(path, []byte("pixeldrain\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewProviderReloader(path, []string{"pixeldrain"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(path, []byte("pixeldrain\ngofile\n# disabled: krakenfiles\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.Enabled(); len(got) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Enabled() = %v, want [pixeldrain gofile] after reload", r.Enabled())
}

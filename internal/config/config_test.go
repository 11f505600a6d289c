package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Budget.MonthlyCredits != 1000.0 {
		t.Errorf("expected default monthly credits 1000.0, got %f", cfg.Budget.MonthlyCredits)
	}
	if cfg.Scheduler.MaxBackfillWindows != 6 {
		t.Errorf("expected default max backfill windows 6, got %d", cfg.Scheduler.MaxBackfillWindows)
	}
	if cfg.Dedupe.SimilarityThreshold != 0.995 {
		t.Errorf("expected default dedupe threshold 0.995, got %f", cfg.Dedupe.SimilarityThreshold)
	}
	if cfg.Signal.Enabled {
		t.Errorf("expected signal corroboration to default off")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	Reset()
	t.Chdir(t.TempDir())
	os.Setenv("ENABLE_SIGNAL_CORROBORATION", "true")
	defer os.Unsetenv("ENABLE_SIGNAL_CORROBORATION")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Signal.Enabled {
		t.Errorf("expected ENABLE_SIGNAL_CORROBORATION=true to enable signal corroboration")
	}
}

func TestValidateRejectsNegativeBudget(t *testing.T) {
	cfg := &Config{}
	cfg.Budget.MonthlyCredits = -1
	if err := validate(cfg); err == nil {
		t.Errorf("expected error for negative monthly credits")
	}
}

package config

import (
	"strings"
	"testing"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

const secret = "0123456789abcdef0123456789abcdef"

func TestParseDefaults(t *testing.T) {
	cfg, warnings, err := parse(env(map[string]string{"JWT_SECRET": secret}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.StoreDriver != "postgres" || cfg.NotifyTransport != "log" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConsolidationMaxPieces != 50 || cfg.ConsolidationMaxWeightKg != 500 {
		t.Errorf("unexpected consolidation defaults: %d %g", cfg.ConsolidationMaxPieces, cfg.ConsolidationMaxWeightKg)
	}
	if len(warnings) != 2 {
		t.Errorf("expected DSN and CORS warnings, got %v", warnings)
	}
}

func TestParseBranchList(t *testing.T) {
	cfg, _, err := parse(env(map[string]string{
		"JWT_SECRET":                secret,
		"AUTO_CONSOLIDATE_BRANCHES": "1, 4,9",
		"AUTO_CONSOLIDATE_CRON":     "*/15 * * * *",
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.AutoConsolidateBranches) != 3 || cfg.AutoConsolidateBranches[1] != 4 {
		t.Errorf("unexpected branches: %v", cfg.AutoConsolidateBranches)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	_, _, err := parse(env(map[string]string{
		"JWT_SECRET":       "short",
		"STORE_DRIVER":     "sqlite",
		"NOTIFY_BUFFER":    "lots",
		"NOTIFY_TRANSPORT": "smtp",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"JWT_SECRET", "STORE_DRIVER", "NOTIFY_BUFFER", "NOTIFY_TRANSPORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

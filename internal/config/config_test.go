package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StoreBackend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.StoreBackend)
	}
	if cfg.Extraction != ExtractionCombined {
		t.Errorf("expected combined extraction, got %q", cfg.Extraction)
	}
	if cfg.AutoFinalize != 0 {
		t.Errorf("expected auto finalization disabled, got %d", cfg.AutoFinalize)
	}
	if cfg.Gemini.Enabled() {
		t.Error("expected Gemini disabled without key")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty API_KEY")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("COLLABORATOR_TIMEOUT", "3s")
	t.Setenv("AUTO_FINALIZE_TURNS", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Errorf("expected memory backend, got %q", cfg.StoreBackend)
	}
	if cfg.Gemini.Timeout != 3*time.Second {
		t.Errorf("expected 3s timeout, got %v", cfg.Gemini.Timeout)
	}
	if cfg.AutoFinalize != 3 {
		t.Errorf("expected auto finalize 3, got %d", cfg.AutoFinalize)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("expected conversation log disabled")
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("EXTRACTION_STRATEGY", "magic")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown extraction strategy")
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	if got := getEnvDuration("SOME_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestFromEnvSkipsValidation(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("DB_PATH", "/tmp/ops.db")

	cfg := FromEnv()
	if cfg.DBPath != "/tmp/ops.db" {
		t.Fatalf("expected DB_PATH override, got %q", cfg.DBPath)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject the missing API_KEY")
	}
}

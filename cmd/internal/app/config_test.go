package app

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	// Not parallel: t.Setenv scopes env mutation to this test.
	for _, key := range []string{
		"LUMORA_HTTP_ADDR",
		"LUMORA_LOG_LEVEL",
		"LUMORA_COMPLETION_ATTEMPTS",
		"LUMORA_WS_ALLOWED_ORIGINS",
		"LUMORA_WS_ORIGIN_REQUIRED",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr: %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("log defaults: level=%q format=%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.CompletionAttempts != 3 {
		t.Fatalf("CompletionAttempts: %d", cfg.CompletionAttempts)
	}
	if cfg.CompletionTimeout != 30*time.Second {
		t.Fatalf("CompletionTimeout: %v", cfg.CompletionTimeout)
	}
	if !cfg.WSOriginRequired {
		t.Fatalf("expected WSOriginRequired=true by default")
	}
	if len(cfg.WSAllowedOrigins) != 3 {
		t.Fatalf("WSAllowedOrigins: %v", cfg.WSAllowedOrigins)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("LUMORA_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("LUMORA_COMPLETION_ATTEMPTS", "5")
	t.Setenv("LUMORA_COMPLETION_RETRY_BASE", "250ms")
	t.Setenv("LUMORA_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("LUMORA_WS_ALLOWED_ORIGINS", " http://a.example , ,http://b.example ")

	cfg := LoadConfig()

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr: %q", cfg.HTTPAddr)
	}
	if cfg.CompletionAttempts != 5 {
		t.Fatalf("CompletionAttempts: %d", cfg.CompletionAttempts)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Fatalf("RetryBaseDelay: %v", cfg.RetryBaseDelay)
	}
	if cfg.WSOriginRequired {
		t.Fatalf("expected WSOriginRequired=false")
	}

	want := []string{"http://a.example", "http://b.example"}
	if len(cfg.WSAllowedOrigins) != len(want) {
		t.Fatalf("WSAllowedOrigins: %v", cfg.WSAllowedOrigins)
	}
	for i := range want {
		if cfg.WSAllowedOrigins[i] != want[i] {
			t.Fatalf("WSAllowedOrigins[%d]: got=%q want=%q", i, cfg.WSAllowedOrigins[i], want[i])
		}
	}
}

func TestConfig_RelayConfigDerivation(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CompletionTimeout:  7 * time.Second,
		CompletionAttempts: 4,
		RetryBaseDelay:     100 * time.Millisecond,
		RetryMaxDelay:      2 * time.Second,
	}

	rc := cfg.RelayConfig()
	if rc.CompletionTimeout != 7*time.Second || rc.CompletionAttempts != 4 {
		t.Fatalf("relay config: %+v", rc)
	}
	if rc.RetryBaseDelay != 100*time.Millisecond || rc.RetryMaxDelay != 2*time.Second {
		t.Fatalf("relay retry config: %+v", rc)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseConfig = `
port: "8094"
databaseURL: "sqlite://profiles.db"
redisAddr: "localhost:6379"
identityDomain: "tenant.example.com"
identityClientID: "cid"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSecretFromEnv(t *testing.T) {
	t.Setenv("IDENTITY_CLIENT_SECRET", "s3cret")
	t.Setenv("PROFILES_QUEUE_MAX_RETRIES", "7")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IdentityClientSecret != "s3cret" || cfg.QueueMaxRetries != 7 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRequiresIdentityCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, baseConfig))
	if err == nil || !strings.Contains(err.Error(), "identityClientSecret") {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestLoadWebhookSecretFromEnv(t *testing.T) {
	t.Setenv("IDENTITY_CLIENT_SECRET", "s3cret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StripeWebhookSecret != "whsec_test" {
		t.Fatalf("webhook secret = %q", cfg.StripeWebhookSecret)
	}
}

func TestLoadRejectsMalformedWebhookSecret(t *testing.T) {
	t.Setenv("IDENTITY_CLIENT_SECRET", "s3cret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "sk_live_wrong")

	_, err := Load(writeConfig(t, baseConfig))
	if err == nil || !strings.Contains(err.Error(), "stripeWebhookSecret") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}
}

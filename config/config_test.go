package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestFromMapDefaults(t *testing.T) {
	c := FromMap(map[string]string{ChartbeatHost: "example.com", BaseURL: "   "})

	if got := c.Get(ChartbeatHost); got != "example.com" {
		t.Errorf("Get(%s) = %q, want override", ChartbeatHost, got)
	}
	if got := c.Get(BaseURL); got != defaults[BaseURL] {
		t.Errorf("blank value should fall back to default, got %q", got)
	}
	if got := c.Get(SessionSecret); got != "" {
		t.Errorf("Get(%s) = %q, want empty", SessionSecret, got)
	}
}

func TestRequire(t *testing.T) {
	c := FromMap(map[string]string{SessionSecret: "s"})

	if err := c.Require(SessionSecret, ChartbeatHost); err != nil {
		t.Fatalf("Require() = %v, want nil", err)
	}

	err := c.Require(SessionSecret, SubscriptionSecret, SubscribersTable)
	if !IsMissing(err) {
		t.Fatalf("Require() = %v, want *MissingError", err)
	}
	var m *MissingError
	errors.As(err, &m)
	if len(m.Vars) != 2 || m.Vars[0] != SubscriptionSecret || m.Vars[1] != SubscribersTable {
		t.Errorf("missing vars = %v", m.Vars)
	}
}

func TestIsMissingWrapped(t *testing.T) {
	err := fmt.Errorf("verify: %w", Missing(SubscriptionSecret))
	if !IsMissing(err) {
		t.Error("IsMissing should see through wrapping")
	}
	if IsMissing(errors.New("other")) {
		t.Error("IsMissing should be false for unrelated errors")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHARTBEAT_API_KEY=from-file\nMAIL_FROM=file@example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(MailFrom, "env@example.com")
	// godotenv sets process env; restore the key afterwards.
	t.Setenv(ChartbeatAPIKey, "")
	os.Unsetenv(ChartbeatAPIKey)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := c.Get(ChartbeatAPIKey); got != "from-file" {
		t.Errorf("Get(%s) = %q, want value from file", ChartbeatAPIKey, got)
	}
	if got := c.Get(MailFrom); got != "env@example.com" {
		t.Errorf("Get(%s) = %q, existing env should win", MailFrom, got)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load() with absent file error = %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.vapi.ai", cfg.Vapi.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Vapi.FallbackDelay)
	assert.Equal(t, 10*time.Second, cfg.Vapi.Timeout)
	assert.Equal(t, "X-Vapi-Secret", cfg.Webhook.SecretHeader)
	assert.InDelta(t, 0.4, cfg.Intake.MinSimilarity, 0.001)
	assert.Equal(t, 24*time.Hour, cfg.Intake.DuplicateLookback)
	assert.Equal(t, []string{"address", "issue", "intent"}, cfg.Intake.RequiredFields)
	assert.Equal(t, []string{"new-issue", "emergency"}, cfg.Intake.AutoClaimIntents)
	assert.Equal(t, []string{"end-of-call-report"}, cfg.Intake.FinalEventTypes)
	assert.Contains(t, cfg.Intake.IntermediateEventTypes, "status-update")
	assert.Equal(t, 10, cfg.Intake.MinIssueLength)
	assert.Equal(t, "log", cfg.Notify.Transport)
	assert.Equal(t, "warranty@example.com", cfg.Notify.DefaultRecipient)
	assert.Equal(t, "warranty.intake", cfg.Kafka.Topic)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
intake:
  min_similarity: 0.55
  duplicate_lookback: 48h
notify:
  recipients:
    - ops@builder.test
    - pm@builder.test
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.55, cfg.Intake.MinSimilarity, 0.001)
	assert.Equal(t, 48*time.Hour, cfg.Intake.DuplicateLookback)
	assert.Equal(t, []string{"ops@builder.test", "pm@builder.test"}, cfg.Notify.Recipients)
	// Defaults still apply for unset values
	assert.Equal(t, 2*time.Second, cfg.Vapi.FallbackDelay)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("WARRANTY_STORE_DRIVER", "postgres")
	t.Setenv("WARRANTY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("WARRANTY_SERVER_PORT", "3000")
	t.Setenv("WARRANTY_WEBHOOK_SECRET", "s3cret")
	t.Setenv("WARRANTY_VAPI_FALLBACK_DELAY", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, 500*time.Millisecond, cfg.Vapi.FallbackDelay)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/warranty"
	cfg.Webhook.Secret = "s3cret"
	cfg.Notify.Transport = "log"
	cfg.Intake.MinSimilarity = 0.4
	cfg.Intake.DuplicateLookback = 24 * time.Hour
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Webhook.Secret = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "webhook.secret is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateReplay_NoSecretNeeded(t *testing.T) {
	cfg := validDefaults()
	cfg.Webhook.Secret = ""
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("replay"))
}

func TestValidateWebhookTransportNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.Transport = "webhook"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.webhook_url")

	cfg.Notify.WebhookURL = "https://relay.test/hook"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnsupportedTransport(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.Transport = "carrier-pigeon"

	err := cfg.Validate("replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestValidateSimilarityBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Intake.MinSimilarity = -0.1
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "min_similarity")

	cfg.Intake.MinSimilarity = 1.1
	assert.Error(t, cfg.Validate("serve"))

	cfg.Intake.MinSimilarity = 1.0
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend:       "mongo",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "community_connect",
		},
		Email: EmailConfig{
			Provider:    "gmail",
			Sender:      "noreply@communityconnect.org",
			GmailUserID: "me",
		},
		Notifications: NotificationsConfig{LedgerBackend: "store"},
		Recurrence:    RecurrenceConfig{HorizonMonths: 3},
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "community_connect.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{Backend: "postgres"}

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	cfg.Database.PostgresURL = "postgres://localhost/community"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Backend = "sqlite"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidate_SESNeedsRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Email = EmailConfig{Provider: "ses", Sender: "noreply@communityconnect.org"}

	assert.Error(t, Validate(cfg))

	cfg.Email.SESRegion = "eu-west-2"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_RedisLedgerNeedsAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Notifications.LedgerBackend = "redis"

	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis.address")

	cfg.Redis.Address = "localhost:6379"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_HorizonBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Recurrence.HorizonMonths = 36

	assert.Error(t, Validate(cfg))
}

func TestLoadFromPath_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  backend: mongo
  mongoURI: "mongodb://localhost:27017"
  mongoDatabase: community_connect
email:
  provider: gmail
  sender: noreply@communityconnect.org
  gmailUserID: me
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "store", cfg.Notifications.LedgerBackend)
	assert.Equal(t, 7*24*time.Hour, cfg.Notifications.LedgerRetention)
	assert.Equal(t, time.Hour, cfg.Notifications.DigestLookback)
	assert.Equal(t, 3, cfg.Recurrence.HorizonMonths)
	assert.Equal(t, 3*time.Second, cfg.Email.SendInterval)
}

func TestLoadFromPath_ReadsDurations(t *testing.T) {
	path := writeConfig(t, `
database:
  backend: postgres
  postgresURL: "postgres://localhost/community"
email:
  provider: ses
  sender: noreply@communityconnect.org
  sesRegion: eu-west-2
redis:
  address: "localhost:6379"
notifications:
  ledgerBackend: redis
  ledgerRetention: 48h
  digestInterval: 10m
recurrence:
  horizonMonths: 6
server:
  address: ":9090"
  allowedOrigins:
    - https://communityconnect.org
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, cfg.Notifications.LedgerRetention)
	assert.Equal(t, 10*time.Minute, cfg.Notifications.DigestInterval)
	assert.Equal(t, 6, cfg.Recurrence.HorizonMonths)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, []string{"https://communityconnect.org"}, cfg.Server.AllowedOrigins)
	assert.Zero(t, cfg.Email.SendInterval)
}

func TestLoadFromPath_EnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvMongoURI, "mongodb://secret-host:27017")
	t.Setenv(EnvJWTSecret, "s3cret")
	path := writeConfig(t, `
database:
  backend: mongo
  mongoURI: "mongodb://localhost:27017"
  mongoDatabase: community_connect
email:
  provider: gmail
  sender: noreply@communityconnect.org
  gmailUserID: me
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://secret-host:27017", cfg.Database.MongoURI)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
}

func TestLoadFromPath_MissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
database:
  backend: mongo
email:
  provider: gmail
  sender: noreply@communityconnect.org
  gmailUserID: me
`)
	t.Setenv(EnvMongoURI, "")

	_, err := LoadFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
database:
  backend: mongo
    invalid indentation
`)

	_, err := LoadFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromPath_FileNotFound(t *testing.T) {
	_, err := LoadFromPath("/nonexistent/path/config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_ReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvPostgresURL, "")
	os.Unsetenv(EnvPostgresURL)

	require.NoError(t, os.WriteFile("community_connect.dev.yaml", []byte(`
database:
  backend: postgres
email:
  provider: ses
  sender: noreply@communityconnect.org
  sesRegion: eu-west-2
`), 0644))
	require.NoError(t, os.WriteFile(".env", []byte(EnvPostgresURL+"=postgres://from-dotenv/community\n"), 0600))

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-dotenv/community", cfg.Database.PostgresURL)
}

func TestLoadOAuthClientFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauthClient.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "installed": {
    "client_id": "test-client-id.apps.googleusercontent.com",
    "project_id": "community-connect",
    "auth_uri": "https://accounts.google.com/o/oauth2/auth",
    "token_uri": "https://oauth2.googleapis.com/token",
    "auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
    "client_secret": "test-secret",
    "redirect_uris": ["http://localhost"]
  }
}`), 0600))

	cfg, err := LoadOAuthClientFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "community-connect", cfg.Installed.ProjectID)
}

func TestLoadOAuthClientFromPath_InvalidURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauthClient.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "installed": {
    "client_id": "id",
    "project_id": "community-connect",
    "auth_uri": "not-a-url",
    "token_uri": "https://oauth2.googleapis.com/token",
    "auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
    "client_secret": "test-secret",
    "redirect_uris": ["http://localhost"]
  }
}`), 0600))

	_, err := LoadOAuthClientFromPath(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

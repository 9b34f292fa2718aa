// ABOUTME: Tests for configuration loading, overrides, validation and persistence
// ABOUTME: Redirects XDG directories to temp dirs so the real config is never touched
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/coachcal/charm"
)

func useTempXDG(t *testing.T) {
	t.Helper()
	origConfig, origData := xdg.ConfigHome, xdg.DataHome
	xdg.ConfigHome = t.TempDir()
	xdg.DataHome = t.TempDir()
	t.Cleanup(func() {
		xdg.ConfigHome = origConfig
		xdg.DataHome = origData
	})
}

func TestLoadDefaults(t *testing.T) {
	useTempXDG(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultCalendarID, cfg.CalendarID)
	assert.Equal(t, DefaultTimeZone, cfg.TimeZone)
	assert.Equal(t, DefaultRedirectURL, cfg.RedirectURL)
	assert.Equal(t, DefaultSessionTime, cfg.SessionTime)
	assert.Equal(t, DefaultSessionMinutes, cfg.SessionMinutes)
	assert.Equal(t, DefaultProgramWeeks, cfg.ProgramWeeks)
	assert.Equal(t, charm.BackendLocal, cfg.KVBackend)
	assert.Equal(t, filepath.Join(xdg.DataHome, "coachcal", "coachcal.db"), cfg.DBPath)
	assert.NoError(t, cfg.Validate())

	_, err = uuid.Parse(cfg.OwnerID)
	require.NoError(t, err, "an owner id is generated")

	info, err := os.Stat(Path())
	require.NoError(t, err, "the generated owner id is persisted")
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.OwnerID, again.OwnerID, "the owner id is stable across loads")
}

func TestLoadEnvOverrides(t *testing.T) {
	useTempXDG(t)
	t.Setenv("COACHCAL_GOOGLE_API_KEY", "AIzaSyTest")
	t.Setenv("COACHCAL_GOOGLE_CLIENT_ID", "123.apps.googleusercontent.com")
	t.Setenv("COACHCAL_TIMEZONE", "Europe/Berlin")
	t.Setenv("COACHCAL_SESSION_MINUTES", "45")
	t.Setenv("COACHCAL_PROGRAM_WEEKS", "8")
	t.Setenv("COACHCAL_KV_BACKEND", "charm")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyTest", cfg.GoogleAPIKey)
	assert.Equal(t, "123.apps.googleusercontent.com", cfg.GoogleClientID)
	assert.Equal(t, "Europe/Berlin", cfg.TimeZone)
	assert.Equal(t, 45, cfg.SessionMinutes)
	assert.Equal(t, 8, cfg.ProgramWeeks)
	assert.Equal(t, charm.BackendCharm, cfg.KVBackend)
}

func TestLoadFileThenEnv(t *testing.T) {
	useTempXDG(t)

	file := Default()
	file.OwnerID = uuid.NewString()
	file.CalendarID = "coaching@group.calendar.google.com"
	file.SessionTime = "06:30"
	require.NoError(t, file.Save())

	t.Setenv("COACHCAL_SESSION_TIME", "07:15")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, file.OwnerID, cfg.OwnerID)
	assert.Equal(t, "coaching@group.calendar.google.com", cfg.CalendarID)
	assert.Equal(t, "07:15", cfg.SessionTime, "env beats file")
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	useTempXDG(t)
	require.NoError(t, os.MkdirAll(Dir(), 0700))
	require.NoError(t, os.WriteFile(Path(), []byte("{not json"), 0600))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"local timezone", func(c *Config) { c.TimeZone = "Local" }},
		{"unknown timezone", func(c *Config) { c.TimeZone = "Mars/Olympus" }},
		{"bad session time", func(c *Config) { c.SessionTime = "noon" }},
		{"bad minutes", func(c *Config) { c.SessionMinutes = -1 }},
		{"bad weeks", func(c *Config) { c.ProgramWeeks = 0 }},
		{"bad backend", func(c *Config) { c.KVBackend = "redis" }},
		{"bad owner", func(c *Config) { c.OwnerID = "coach-1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestUnparseableNumberFailsValidation(t *testing.T) {
	useTempXDG(t)
	t.Setenv("COACHCAL_SESSION_MINUTES", "an hour")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "session_minutes")
}

func TestKVConfig(t *testing.T) {
	useTempXDG(t)
	cfg := Default()
	cfg.KVPath = ""

	kv := cfg.KVConfig()
	assert.Equal(t, charm.BackendLocal, kv.Backend)
	assert.Equal(t, charm.DefaultLocalPath(), kv.LocalPath)
	assert.Equal(t, charm.DefaultCharmHost, kv.Host)
}

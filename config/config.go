// ABOUTME: Application configuration stored at XDG paths with .env and environment overrides
// ABOUTME: Carries Google credentials, calendar defaults, storage locations and session defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/harperreed/coachcal/charm"
	"github.com/harperreed/coachcal/recurrence"
)

const (
	AppName = "coachcal"

	DefaultCalendarID     = "primary"
	DefaultTimeZone       = "UTC"
	DefaultRedirectURL    = "http://127.0.0.1:8085/oauth/callback"
	DefaultSessionTime    = "08:00"
	DefaultSessionMinutes = 60
	DefaultProgramWeeks   = 12
	DefaultLogLevel       = "info"
)

// Config is the on-disk configuration.
type Config struct {
	GoogleAPIKey       string `json:"google_api_key,omitempty"`
	GoogleClientID     string `json:"google_client_id,omitempty"`
	GoogleClientSecret string `json:"google_client_secret,omitempty"`
	RedirectURL        string `json:"redirect_url"`

	CalendarID string `json:"calendar_id"`
	TimeZone   string `json:"timezone"`

	DBPath    string `json:"db_path"`
	KVBackend string `json:"kv_backend"`
	KVPath    string `json:"kv_path"`
	CharmHost string `json:"charm_host,omitempty"`

	LogLevel string `json:"log_level"`

	// OwnerID identifies this coach's sessions. Generated on first Load.
	OwnerID       string `json:"owner_id"`
	AttendeeEmail string `json:"attendee_email,omitempty"`

	SessionTime    string `json:"session_time"`
	SessionMinutes int    `json:"session_minutes"`
	ProgramWeeks   int    `json:"program_weeks"`
}

// Dir returns the XDG config directory for coachcal.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(Dir(), "config.json")
}

// DefaultDBPath is the SQLite database under the XDG data home.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, AppName, AppName+".db")
}

// Default returns a config with every default filled in.
func Default() *Config {
	return &Config{
		RedirectURL:    DefaultRedirectURL,
		CalendarID:     DefaultCalendarID,
		TimeZone:       DefaultTimeZone,
		DBPath:         DefaultDBPath(),
		KVBackend:      charm.BackendLocal,
		KVPath:         charm.DefaultLocalPath(),
		LogLevel:       DefaultLogLevel,
		SessionTime:    DefaultSessionTime,
		SessionMinutes: DefaultSessionMinutes,
		ProgramWeeks:   DefaultProgramWeeks,
	}
}

// Load reads the config file, then a .env file in the working directory
// if present, then COACHCAL_* environment variables. A missing file is
// not an error. A config without an owner id gets one and is saved.
func Load() (*Config, error) {
	cfg := Default()

	f, err := os.Open(Path())
	switch {
	case err == nil:
		defer func() { _ = f.Close() }()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnvOverrides(cfg)
	cfg.fillDefaults()

	if cfg.OwnerID == "" {
		cfg.OwnerID = uuid.NewString()
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := map[string]*string{
		"COACHCAL_GOOGLE_API_KEY":       &cfg.GoogleAPIKey,
		"COACHCAL_GOOGLE_CLIENT_ID":     &cfg.GoogleClientID,
		"COACHCAL_GOOGLE_CLIENT_SECRET": &cfg.GoogleClientSecret,
		"COACHCAL_REDIRECT_URL":         &cfg.RedirectURL,
		"COACHCAL_CALENDAR_ID":          &cfg.CalendarID,
		"COACHCAL_TIMEZONE":             &cfg.TimeZone,
		"COACHCAL_DB_PATH":              &cfg.DBPath,
		"COACHCAL_KV_BACKEND":           &cfg.KVBackend,
		"COACHCAL_KV_PATH":              &cfg.KVPath,
		"COACHCAL_CHARM_HOST":           &cfg.CharmHost,
		"COACHCAL_LOG_LEVEL":            &cfg.LogLevel,
		"COACHCAL_OWNER_ID":             &cfg.OwnerID,
		"COACHCAL_ATTENDEE_EMAIL":       &cfg.AttendeeEmail,
		"COACHCAL_SESSION_TIME":         &cfg.SessionTime,
	}
	for name, field := range str {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	// Unparseable numbers are kept as -1 so Validate reports them.
	ints := map[string]*int{
		"COACHCAL_SESSION_MINUTES": &cfg.SessionMinutes,
		"COACHCAL_PROGRAM_WEEKS":   &cfg.ProgramWeeks,
	}
	for name, field := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				n = -1
			}
			*field = n
		}
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.RedirectURL == "" {
		c.RedirectURL = d.RedirectURL
	}
	if c.CalendarID == "" {
		c.CalendarID = d.CalendarID
	}
	if c.TimeZone == "" {
		c.TimeZone = d.TimeZone
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.KVBackend == "" {
		c.KVBackend = d.KVBackend
	}
	if c.KVPath == "" {
		c.KVPath = d.KVPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.SessionTime == "" {
		c.SessionTime = d.SessionTime
	}
	if c.SessionMinutes == 0 {
		c.SessionMinutes = d.SessionMinutes
	}
	if c.ProgramWeeks == 0 {
		c.ProgramWeeks = d.ProgramWeeks
	}
}

// Validate reports malformed values. Missing Google credentials are left
// to auth.Manager.Initialize.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := recurrence.ParseTimeOfDay(c.SessionTime); err != nil {
		errs = append(errs, fmt.Errorf("session_time: %w", err))
	}
	if c.SessionMinutes <= 0 {
		errs = append(errs, fmt.Errorf("session_minutes must be positive, got %d", c.SessionMinutes))
	}
	if c.ProgramWeeks <= 0 {
		errs = append(errs, fmt.Errorf("program_weeks must be positive, got %d", c.ProgramWeeks))
	}
	if c.KVBackend != charm.BackendLocal && c.KVBackend != charm.BackendCharm {
		errs = append(errs, fmt.Errorf("kv_backend must be %q or %q, got %q", charm.BackendLocal, charm.BackendCharm, c.KVBackend))
	}
	if c.OwnerID != "" {
		if _, err := uuid.Parse(c.OwnerID); err != nil {
			errs = append(errs, fmt.Errorf("owner_id %q is not a uuid", c.OwnerID))
		}
	}
	return errors.Join(errs...)
}

// Location resolves TimeZone. "Local" is refused so event times never
// depend on the machine they were computed on.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "Local") {
		return nil, fmt.Errorf("timezone must be an IANA zone name, got %q", c.TimeZone)
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Owner parses OwnerID.
func (c *Config) Owner() (uuid.UUID, error) {
	id, err := uuid.Parse(c.OwnerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid owner_id %q: %w", c.OwnerID, err)
	}
	return id, nil
}

// KVConfig returns the credential medium settings.
func (c *Config) KVConfig() *charm.Config {
	kv := &charm.Config{
		Backend:   c.KVBackend,
		LocalPath: c.KVPath,
		Host:      c.CharmHost,
		AutoSync:  true,
	}
	kv.ApplyDefaults()
	return kv
}

// Save writes the config with owner-only permissions.
func (c *Config) Save() error {
	path := Path()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

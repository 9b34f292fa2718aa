// ABOUTME: Composition root wiring config, storage, auth and the sync engine for commands
// ABOUTME: Google bootstrap and the calendar client are built lazily on first use
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/auth"
	"github.com/harperreed/coachcal/charm"
	"github.com/harperreed/coachcal/config"
	"github.com/harperreed/coachcal/credstore"
	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/logging"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/retry"
	"github.com/harperreed/coachcal/sync"
)

// App holds everything a command needs.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	DB       *sql.DB
	KV       *charm.Client
	Auth     *auth.Manager
	Creds    *credstore.Store
	Sessions *db.SessionRepository
	Routines *db.RoutineRepository
	Runs     *db.SyncRepository
	Owner    uuid.UUID
	Location *time.Location

	retry       *retry.Executor
	scheduler   sync.Scheduler
	initialized bool
}

// NewApp opens local storage and prepares (but does not contact) Google.
func NewApp(cfg *config.Config, logger *log.Logger) (*App, error) {
	logger = logging.OrDefault(logger)
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "config", err, "invalid configuration")
	}
	owner, err := cfg.Owner()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "config", err, "")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "config", err, "")
	}

	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	kv, err := charm.Open(cfg.KVConfig())
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	exec := retry.New(logger)
	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURL,
		OpenBrowser:  term.IsTerminal(int(os.Stdout.Fd())),
		Logger:       logger,
	})
	creds := credstore.New(kv)
	mgr := auth.NewManager(provider, creds,
		auth.WithLogger(logger),
		auth.WithRetry(exec),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		KV:       kv,
		Auth:     mgr,
		Creds:    creds,
		Sessions: db.NewSessionRepository(database),
		Routines: db.NewRoutineRepository(database),
		Runs:     db.NewSyncRepository(database),
		Owner:    owner,
		Location: loc,
		retry:    exec,
	}, nil
}

// Close releases storage handles.
func (a *App) Close() error {
	var errs []error
	if a.KV != nil {
		errs = append(errs, a.KV.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// EnsureInitialized bootstraps the Google client once per process.
func (a *App) EnsureInitialized(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	ok, err := a.Auth.Initialize(ctx, a.Config.GoogleAPIKey, a.Config.GoogleClientID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindTransient, "auth.init", "timed out contacting Google; check your connection and try again")
	}
	a.initialized = true
	return nil
}

// RequireSignedIn returns nil when calendar calls can be made, attempting
// a silent renewal first.
func (a *App) RequireSignedIn(ctx context.Context) error {
	if err := a.EnsureInitialized(ctx); err != nil {
		return err
	}
	if a.Auth.IsAuthenticated() {
		return nil
	}
	if err := a.Auth.Renew(ctx); err == nil {
		return nil
	}
	return apperr.New(apperr.KindAuth, "auth", "not signed in; run 'coachcal auth login'")
}

// Scheduler returns the sync engine, signing in checks first.
func (a *App) Scheduler(ctx context.Context) (sync.Scheduler, error) {
	if a.scheduler != nil {
		return a.scheduler, nil
	}
	if err := a.RequireSignedIn(ctx); err != nil {
		return nil, err
	}

	svc, err := sync.NewCalendarService(ctx, a.Auth.TokenSource())
	if err != nil {
		return nil, err
	}
	gw := sync.NewCalendarGateway(svc, a.Auth, a.retry, a.Logger)
	a.scheduler = sync.NewOrchestrator(gw, a.Sessions, a.Routines,
		sync.WithRunLog(a.Runs),
		sync.WithLogger(a.Logger),
	)
	return a.scheduler, nil
}

// SyncDefaults is the sync context built from configuration.
func (a *App) SyncDefaults() sync.SyncContext {
	return sync.SyncContext{
		OwnerID:         a.Owner,
		AttendeeEmail:   a.Config.AttendeeEmail,
		TimeOfDay:       a.Config.SessionTime,
		DurationMinutes: a.Config.SessionMinutes,
		Occurrences:     a.Config.ProgramWeeks,
		Location:        a.Location,
		CalendarID:      a.Config.CalendarID,
	}
}

// ResolveRoutine accepts a routine id or a (case-insensitive) name.
func (a *App) ResolveRoutine(ctx context.Context, ref string) (*models.Routine, error) {
	if id, err := uuid.Parse(ref); err == nil {
		r, err := a.Routines.GetRoutine(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("routine %s: %w", ref, err)
		}
		return r, nil
	}
	r, err := a.Routines.FindByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("routine %q: %w", ref, err)
	}
	return r, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"backoffice/internal/amqp"
	"backoffice/internal/cache"
	"backoffice/internal/config"
	"backoffice/internal/export"
	"backoffice/internal/google"
	apphttp "backoffice/internal/http"
	"backoffice/internal/inventory"
	"backoffice/internal/lock"
	applog "backoffice/internal/log"
	"backoffice/internal/memory"
	"backoffice/internal/monthend"
	"backoffice/internal/ports"
	"backoffice/internal/ratelimit"
	"backoffice/internal/reconcile"
	"backoffice/internal/storage"
)

// dataStore is what either backend provides.
type dataStore interface {
	ports.PropertyReader
	ports.BookingReader
	ports.BookingWriter
	ports.InvoiceReader
	ports.InvoiceWriter
	ports.InventoryLookup
	ports.StatusRepository
}

var (
	_ dataStore = (*memory.Store)(nil)
	_ dataStore = (*storage.SQLiteRepository)(nil)
)

// App is the wired month-end core.
type App struct {
	Config *config.Config
	Logger *applog.Logger

	Data       dataStore
	Limiter    *ratelimit.Limiter
	Locker     lock.Locker
	Checker    *inventory.Checker
	Recorder   *inventory.Recorder
	Store      *monthend.Store
	Calculator *reconcile.Calculator
	Exporter   *export.Exporter
	// AMQP is nil when AMQP_URL is unset.
	AMQP *amqp.Client

	ping    func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Build wires every component from cfg. On error everything opened so far
// is closed.
func Build(ctx context.Context, cfg *config.Config, logger *applog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.openData(ctx); err != nil {
		return nil, err
	}

	a.Limiter = ratelimit.New(cfg.LimiterConfig())
	a.closers = append(a.closers, a.Limiter.Stop)

	if err := a.openLocker(ctx); err != nil {
		return nil, err
	}

	a.Checker = inventory.NewChecker(a.Data, cache.NewLRU[bool](cfg.ReadinessCacheSize, cfg.ReadinessCacheTTL))
	a.Recorder = inventory.NewRecorder(a.Data, a.Checker)
	a.Store = monthend.NewStore(a.Data, a.Data, a.Checker, a.Locker)
	a.Store.Parallelism = cfg.BatchParallelism
	a.Calculator = reconcile.NewCalculator(a.Data, a.Data, a.Data, a.Store)

	sheets, opts, err := a.openGoogle(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.AMQPURL != "" {
		a.AMQP, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		a.closers = append(a.closers, ignoreCtx(a.AMQP.Close))
		opts.Publisher = a.AMQP
		logger.Info("AMQP owner notifications enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - owner notifications run only through the API")
	}

	opts.Locker = a.Locker
	a.Exporter = export.New(a.Data, a.Calculator, a.Store, sheets, opts)
	return a, nil
}

func (a *App) openData(ctx context.Context) error {
	cfg := a.Config
	seed, err := memory.ReadSeedFile(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("read property seed: %w", err)
	}

	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, ignoreCtx(repo.Close))
		for _, p := range seed {
			if err := repo.UpsertProperty(ctx, p); err != nil {
				return fmt.Errorf("seed property %s: %w", p.ID, err)
			}
		}
		a.Data = repo
		a.ping = repo.Ping
		a.Logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath, "seeded_properties", len(seed))
	default:
		store := memory.New()
		for _, p := range seed {
			store.PutProperty(p)
		}
		a.Data = store
		a.Logger.Info("Initialized memory backend", "seeded_properties", len(seed))
	}
	return nil
}

func (a *App) openLocker(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.Locker = lock.NewLocal()
		return nil
	}
	opt, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	a.closers = append(a.closers, ignoreCtx(rdb.Close))
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Locker = lock.NewRedis(rdb, lock.RedisOptions{})
	a.Logger.Info("Using Redis keyed locks", "addr", opt.Addr)
	return nil
}

// openGoogle returns the spreadsheet writer and the Drive/Gmail options.
// Without a spreadsheet id an in-memory spreadsheet stands in and owner
// emails are disabled.
func (a *App) openGoogle(ctx context.Context) (ports.SpreadsheetWriter, export.Options, error) {
	cfg := a.Config
	opts := export.Options{DriveFolderID: cfg.GoogleDriveFolderID, From: cfg.GmailSender}
	if !cfg.GoogleEnabled() {
		a.Logger.Info("Google APIs disabled - no GOOGLE_SPREADSHEET_ID provided, exporting to memory")
		return memory.NewSpreadsheet("local"), opts, nil
	}

	sa, err := google.LoadServiceAccount(ctx, cfg.GoogleServiceAccountJSON, cfg.GoogleServiceAccountFile)
	if err != nil {
		return nil, opts, err
	}
	creds := google.Credentials{ServiceAccountJSON: sa}
	if cfg.GoogleOAuthTokenFile != "" && cfg.GoogleOAuthClientFile != "" {
		if creds.OAuthToken, err = google.LoadOAuthToken(cfg.GoogleOAuthTokenFile); err != nil {
			return nil, opts, err
		}
		if creds.OAuthClientJSON, err = os.ReadFile(cfg.GoogleOAuthClientFile); err != nil {
			return nil, opts, fmt.Errorf("read oauth client file: %w", err)
		}
	}

	sheets, err := google.NewSheets(ctx, creds, cfg.GoogleSpreadsheetID, a.Limiter)
	if err != nil {
		return nil, opts, fmt.Errorf("init sheets: %w", err)
	}
	a.Logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	if cfg.GoogleDriveFolderID != "" {
		drive, err := google.NewDrive(ctx, creds, a.Limiter)
		if err != nil {
			return nil, opts, fmt.Errorf("init drive: %w", err)
		}
		opts.Files = drive
		a.Logger.Info("Statement archive enabled", "folder_id", cfg.GoogleDriveFolderID)
	}
	if cfg.GmailSender != "" || creds.OAuthToken != nil {
		gmail, err := google.NewGmail(ctx, creds, cfg.GmailSender, a.Limiter)
		if err != nil {
			return nil, opts, fmt.Errorf("init gmail: %w", err)
		}
		opts.Mailer = gmail
		a.Logger.Info("Owner emails enabled", "sender", cfg.GmailSender)
	}
	return sheets, opts, nil
}

// Ping reports whether the backing store answers.
func (a *App) Ping(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// ServerDeps exposes the app to the HTTP API.
func (a *App) ServerDeps() apphttp.Deps {
	return apphttp.Deps{
		Statuses:           a.Store,
		Readiness:          a.Checker,
		Calculator:         a.Calculator,
		Exporter:           a.Exporter,
		Invoices:           a.Recorder,
		Bookings:           a.Data,
		Limiter:            a.Limiter,
		Ready:              a.Ping,
		Logger:             a.Logger,
		RateLimitPerMinute: a.Config.RateLimitPerMinute,
	}
}

// Close releases resources in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ignoreCtx(f func() error) func(context.Context) error {
	return func(context.Context) error { return f() }
}

// Command BloodLink runs the WhatsApp blood-donation coordinator: the
// webhook server, the inbound dispatcher, the outbox sender and the
// maintenance scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BloodLink/internal/api"
	"github.com/BTreeMap/BloodLink/internal/config"
	"github.com/BTreeMap/BloodLink/internal/flow"
	"github.com/BTreeMap/BloodLink/internal/genai"
	"github.com/BTreeMap/BloodLink/internal/lockfile"
	"github.com/BTreeMap/BloodLink/internal/matching"
	"github.com/BTreeMap/BloodLink/internal/messaging"
	"github.com/BTreeMap/BloodLink/internal/scheduler"
	"github.com/BTreeMap/BloodLink/internal/session"
	"github.com/BTreeMap/BloodLink/internal/store"
	"github.com/BTreeMap/BloodLink/internal/twiliowhatsapp"
	"github.com/BTreeMap/BloodLink/internal/verification"
	"github.com/BTreeMap/BloodLink/internal/whatsapp"
)

func main() {
	configFile := os.Getenv("BLOODLINK_CONFIG_FILE")
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg, err = parseFlags(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		os.Exit(2)
	}
	initializeLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("BloodLink failed", "error", err)
		os.Exit(1)
	}
	slog.Info("BloodLink exited")
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// parseFlags overrides cfg with command-line flags.
func parseFlags(args []string, cfg config.Config) (config.Config, error) {
	fs := flag.NewFlagSet("BloodLink", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Addr, "HTTP listen address (overrides $BLOODLINK_ADDR)")
	stateDir := fs.String("state-dir", cfg.StateDir, "state directory (overrides $BLOODLINK_STATE_DIR)")
	dbDSN := fs.String("db-dsn", "", "SQLite path or Postgres DSN (overrides $BLOODLINK_DB_DSN / $DATABASE_URL)")
	redisURL := fs.String("redis-url", cfg.RedisURL, "Redis URL for shared sessions; empty keeps sessions in memory")
	transport := fs.String("transport", cfg.Transport, "messaging transport: twilio or whatsmeow")
	debug := fs.Bool("debug", cfg.Debug, "enable debug logging")
	sessionTTL := fs.Duration("session-ttl", cfg.SessionTTL, "idle session lifetime")
	sweepCron := fs.String("sweep-cron", cfg.SweepCron, "cron spec of the expiry sweep")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// The default DSN lives in the state dir, so re-derive it if only -state-dir moved.
	if *stateDir != cfg.StateDir && *dbDSN == "" {
		if cfg.DBDSN == config.DefaultDBDSN(cfg.StateDir) {
			cfg.DBDSN = ""
		}
		if cfg.WhatsAppDBDSN == config.DefaultWhatsAppDBDSN(cfg.StateDir) {
			cfg.WhatsAppDBDSN = ""
		}
	}
	cfg.Addr = *addr
	cfg.StateDir = *stateDir
	if *dbDSN != "" {
		cfg.DBDSN = *dbDSN
	}
	cfg.RedisURL = *redisURL
	cfg.Transport = *transport
	cfg.Debug = *debug
	cfg.SessionTTL = *sessionTTL
	cfg.SweepCron = *sweepCron
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// app holds the constructed components.
type app struct {
	cfg      config.Config
	store    store.Store
	sessions session.Store
	router   *flow.Router
	svc      messaging.Service
	inbound  api.Inbound
	checks   map[string]api.Pinger
	closers  []func() error
}

func run(ctx context.Context, cfg config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()
	return a.run(ctx)
}

// buildApp wires every component. A non-nil svc replaces the configured transport.
func buildApp(ctx context.Context, cfg config.Config, svc messaging.Service) (*app, error) {
	a := &app{cfg: cfg, checks: map[string]api.Pinger{}}

	st, err := store.Open(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st
	a.checks["store"] = st
	a.closers = append(a.closers, st.Close)

	if err := a.buildSessions(ctx); err != nil {
		a.close()
		return nil, err
	}

	media, err := buildMedia(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	deps := flow.Dependencies{Store: st, Media: media}
	if cfg.OpenAIKey != "" {
		opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey), genai.WithStateDir(cfg.StateDir), genai.WithDebugMode(cfg.Debug)}
		if cfg.OpenAIModel != "" {
			opts = append(opts, genai.WithModel(cfg.OpenAIModel))
		}
		answerer, err := genai.NewClient(opts...)
		if err != nil {
			slog.Warn("buildApp: GenAI disabled", "error", err)
		} else {
			deps.Answerer = answerer
		}
	}

	reg := flow.NewRegistry()
	flow.RegisterCore(reg, deps)
	verification.NewOrchestrator(provider, media, st).Register(reg)
	matching.New(deps).Register(reg)
	a.router = flow.NewRouter(a.sessions, st, reg)

	if svc == nil {
		svc, err = a.buildTransport()
		if err != nil {
			a.close()
			return nil, err
		}
	}
	a.svc = svc
	if in, ok := svc.(api.Inbound); ok {
		a.inbound = in
	}
	return a, nil
}

func (a *app) buildSessions(ctx context.Context) error {
	opts := []session.Option{session.WithTTL(a.cfg.SessionTTL)}
	if a.cfg.RedisURL == "" {
		a.sessions = session.NewMemoryStore(opts...)
		slog.Info("buildApp: using in-memory sessions", "ttl", a.cfg.SessionTTL)
		return nil
	}
	rs, err := session.Connect(ctx, a.cfg.RedisURL, opts...)
	if err != nil {
		return err
	}
	a.sessions = rs
	a.checks["sessions"] = rs
	a.closers = append(a.closers, rs.Close)
	slog.Info("buildApp: using redis sessions", "ttl", a.cfg.SessionTTL)
	return nil
}

func buildMedia(cfg config.Config) (*verification.MediaPipeline, error) {
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.Addr
	}
	docs, err := verification.NewLocalDocumentStore(cfg.DocumentsDir(), baseURL+"/documents")
	if err != nil {
		return nil, err
	}
	fetcher := verification.NewHTTPMediaFetcher(verification.WithMediaCredentials(cfg.TwilioAccountSID, cfg.TwilioAuthToken))
	return verification.NewMediaPipeline(fetcher, docs), nil
}

func buildProvider(cfg config.Config) (verification.Provider, error) {
	if cfg.MockKYC {
		slog.Warn("buildApp: using mock KYC provider; every check passes")
		return verification.NewMockProvider(), nil
	}
	p, err := verification.NewDojahProvider(
		verification.WithAppID(cfg.DojahAppID),
		verification.WithSecretKey(cfg.DojahSecretKey),
		verification.WithZeehSecretKey(cfg.ZeehSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create KYC provider: %w", err)
	}
	return p, nil
}

func (a *app) buildTransport() (messaging.Service, error) {
	switch a.cfg.Transport {
	case config.TransportWhatsmeow:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(a.cfg.WhatsAppDBDSN)}
		if a.cfg.WhatsAppQR != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(a.cfg.WhatsAppQR))
		}
		if a.cfg.Debug {
			opts = append(opts, whatsapp.WithLogLevel("DEBUG"))
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to start whatsmeow client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		opts := []twiliowhatsapp.Option{
			twiliowhatsapp.WithAccountSID(a.cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(a.cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(a.cfg.TwilioFrom),
		}
		if a.cfg.PublicBaseURL != "" {
			opts = append(opts, twiliowhatsapp.WithStatusCallback(a.cfg.PublicBaseURL+"/webhook/status"))
		}
		client, err := twiliowhatsapp.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	}
}

// run starts every long-lived component and blocks until ctx is done or
// one of them fails.
func (a *app) run(ctx context.Context) error {
	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweeper := &scheduler.Sweeper{Requests: a.store, Sessions: a.sessions, Dedup: a.store}
	if err := sweeper.Schedule(ctx, sched, a.cfg.SweepCron); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", a.cfg.SweepCron, err)
	}

	outbox := store.NewOutboxSender(a.store, func(ctx context.Context, msg store.OutboxMessage) error {
		return a.svc.SendMessage(ctx, msg.Phone, msg.Body)
	})
	if err := outbox.RecoverStaleMessages(ctx); err != nil {
		slog.Warn("app.run: outbox recovery failed", "error", err)
	}

	server := api.NewServer(a.inbound, a.checks, api.WithAddr(a.cfg.Addr), api.WithDocumentsDir(a.cfg.DocumentsDir()))
	dispatcher := messaging.NewDispatcher(a.svc, a.router,
		messaging.WithInboundLog(a.store),
		messaging.WithReceiptSink(a.store),
		messaging.WithWorkers(a.cfg.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.svc.Stop()
	})

	slog.Info("BloodLink started", "addr", a.cfg.Addr, "transport", a.cfg.Transport, "stateDir", a.cfg.StateDir)
	return g.Wait()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("app.close: close failed", "error", err)
		}
	}
	a.closers = nil
}

// Package app wires the interview service's subsystems into a running HTTP
// server.
//
// New builds every subsystem from a validated config, Run serves until the
// context is cancelled and then drains live voice sessions, and Close
// releases stores and clients.
//
// For testing, inject doubles via functional options (WithLLM, WithVoice,
// WithFeedbackStore, ...). When an option is not provided, New creates the
// real implementation named by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/poirierunited/get-ahead-ai/internal/api"
	"github.com/poirierunited/get-ahead-ai/internal/config"
	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/gate"
	"github.com/poirierunited/get-ahead-ai/internal/health"
	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/observe"
	"github.com/poirierunited/get-ahead-ai/internal/ratelimit"
	"github.com/poirierunited/get-ahead-ai/internal/resilience"
	"github.com/poirierunited/get-ahead-ai/internal/session"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
)

const (
	readHeaderTimeout = 10 * time.Second
	redisKeyPrefix    = "getahead:ratelimit:"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	level   *slog.LevelVar
	reg     *config.Registry
	metrics *observe.Metrics
	watcher *config.Watcher

	// Subsystems, initialised in New.
	llm        llm.Provider
	voice      voice.Provider
	store      feedback.Store
	interviews interview.Repository
	rateStore  ratelimit.Store
	limiter    *ratelimit.Limiter
	breaker    *resilience.CircuitBreaker
	gate       *gateHolder
	machine    atomic.Pointer[session.Machine]
	pipeline   *feedback.Pipeline
	sessions   *session.Registry
	health     *health.Handler
	checkers   []health.Checker
	handler    http.Handler

	// closers are called in order during Close.
	closers   []func() error
	closeOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger and the level variable that hot reloads adjust.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.log = l
		a.level = level
	}
}

// WithRegistry replaces the built-in provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics sets the instrument set. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWatcher makes Run poll the config file and apply hot-reloadable
// changes. The watcher's callback should call [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLLM injects the scoring model instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithVoice injects the voice provider instead of creating one from config.
func WithVoice(p voice.Provider) Option {
	return func(a *App) { a.voice = p }
}

// WithFeedbackStore injects the feedback store instead of creating one from
// config.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.store = s }
}

// WithInterviewRepository injects the interview repository instead of
// creating one from config.
func WithInterviewRepository(r interview.Repository) Option {
	return func(a *App) { a.interviews = r }
}

// WithRateLimitStore injects the limiter's timestamp store instead of
// creating one from config.
func WithRateLimitStore(s ratelimit.Store) Option {
	return func(a *App) { a.rateStore = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(Level(cfg.Server.LogLevel))
	}
	if a.log == nil {
		a.log = NewLogger(os.Stderr, cfg.Server.LogFormat, a.level)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltinProviders(a.reg)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"storage", a.initStorage},
		{"rate limit", a.initRateLimit},
		{"scoring", a.initScoring},
		{"voice", a.initVoice},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	a.gate = newGateHolder(cfg.Gate)
	a.pipeline = feedback.NewPipeline(a.store, a.scorer(),
		feedback.WithRateLimiter(a.limiter),
		feedback.WithGate(a.gate),
		feedback.WithTemplates(feedback.NewTemplateSet(cfg.Feedback.Templates)),
		feedback.WithSerializedNumbering(cfg.Feedback.AttemptNumbering == config.NumberingSerialized),
		feedback.WithMetrics(a.metrics),
	)
	a.machine.Store(a.buildMachine(cfg))
	a.sessions = session.NewRegistry()
	a.health = health.New(a.checkers...)
	a.handler = a.routes()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens PostgreSQL when a DSN is configured and falls back to the
// file or in-memory stores otherwise.
func (a *App) initStorage(ctx context.Context) error {
	if a.store != nil && a.interviews != nil {
		return nil
	}
	st := a.cfg.Storage

	if st.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, st.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if a.store == nil {
			a.store = feedback.NewPostgresStore(pool)
		}
		if a.interviews == nil {
			a.interviews = interview.NewPostgresRepository(pool)
		}
		a.checkers = append(a.checkers, health.Postgres(pool))
		a.log.Info("storage ready", "backend", "postgres")
		return nil
	}

	if a.store == nil {
		if st.FeedbackFile != "" {
			a.store = feedback.NewFileStore(st.FeedbackFile)
		} else {
			a.store = feedback.NewMemoryStore()
			a.log.Warn("no storage configured, feedback is kept in memory only")
		}
	}
	if a.interviews == nil {
		repo := interview.NewMemoryRepository()
		if st.InterviewsFile != "" {
			items, err := interview.LoadFixtures(st.InterviewsFile)
			if err != nil {
				return err
			}
			for _, iv := range items {
				repo.Put(iv)
			}
			a.log.Info("loaded interview fixtures", "path", st.InterviewsFile, "count", len(items))
		}
		a.interviews = repo
	}
	a.log.Info("storage ready", "backend", "local", "feedback_file", st.FeedbackFile)
	return nil
}

func (a *App) initRateLimit(context.Context) error {
	rl := a.cfg.RateLimit
	if a.rateStore == nil {
		switch rl.Backend {
		case config.RateLimitRedis:
			client := ratelimit.NewRedisClient(rl.RedisURL)
			a.rateStore = ratelimit.NewRedisStore(client, redisKeyPrefix)
			a.closers = append(a.closers, client.Close)
			a.checkers = append(a.checkers, health.Redis(client))
		default:
			a.rateStore = ratelimit.NewMemoryStore(rl.Window)
		}
	}
	a.limiter = ratelimit.New(a.rateStore,
		ratelimit.WithWindow(rl.Window),
		ratelimit.WithMax(rl.MaxRequests),
	)
	a.log.Info("rate limiter ready", "backend", rl.Backend,
		"window", a.limiter.Window(), "max", a.limiter.Max())
	return nil
}

func (a *App) initScoring(context.Context) error {
	if a.llm == nil {
		p, err := buildLLM(a.cfg.Providers, a.reg, a.log)
		if err != nil {
			return err
		}
		a.llm = p
	}

	bc := a.cfg.Feedback.Breaker
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "scoring",
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		HalfOpenMax:  bc.HalfOpenMax,
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	a.checkers = append(a.checkers, health.Breaker(a.breaker))
	a.log.Info("scoring model ready", "provider", a.llm.Name())
	return nil
}

func (a *App) initVoice(context.Context) error {
	if a.voice != nil {
		return nil
	}
	entry := a.cfg.Providers.Voice
	if entry.Name == "" {
		a.log.Warn("no voice provider configured, the session endpoint is disabled")
		return nil
	}
	p, err := a.reg.CreateVoice(entry)
	if err != nil {
		return fmt.Errorf("create voice provider %q: %w", entry.Name, err)
	}
	a.voice = p
	a.log.Info("voice provider ready", "provider", p.Name())
	return nil
}

func (a *App) scorer() *feedback.LLMScorer {
	fc := a.cfg.Feedback
	return feedback.NewLLMScorer(a.llm,
		feedback.WithBreaker(a.breaker),
		feedback.WithTemperature(fc.Temperature),
		feedback.WithMaxTokens(fc.MaxTokens),
		feedback.WithTimeout(fc.LLMTimeout),
	)
}

// buildMachine derives the session rules from cfg. The gate is shared
// through the holder, so gate reloads need no rebuild.
func (a *App) buildMachine(cfg *config.Config) *session.Machine {
	return session.NewMachine(a.gate,
		session.WithPersonas(session.DefaultPersonas().Merge(cfg.Session.Personas)),
		session.WithRoutes(cfg.Session.Routes),
		session.WithMaxDuration(cfg.Session.MaxDuration),
	)
}

func (a *App) routes() http.Handler {
	clientKey := ratelimit.ClientKey
	if a.cfg.RateLimit.ClientKey == config.ClientKeyRemote {
		clientKey = ratelimit.RemoteKey
	}

	var submitter func(*http.Request) session.Submitter
	if url := a.cfg.Session.SubmitURL; url != "" {
		submitter = func(r *http.Request) session.Submitter {
			return &session.HTTPSubmitter{BaseURL: url, ForwardedFor: clientKey(r)}
		}
	}

	srv := api.New(api.Config{
		Feedback:       a.pipeline,
		Interviews:     a.interviews,
		Voice:          a.voice,
		Machine:        a.machine.Load,
		Submitter:      submitter,
		Sessions:       a.sessions,
		ClientKey:      clientKey,
		DefaultLocale:  a.cfg.Session.DefaultLocale,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
		Metrics:        a.metrics,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	a.health.Register(r)
	r.Handle(a.cfg.Telemetry.MetricsPath, promhttp.Handler())
	srv.Mount(r)
	return r
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the feedback pipeline.
func (a *App) Pipeline() *feedback.Pipeline { return a.pipeline }

// Sessions returns the live session registry.
func (a *App) Sessions() *session.Registry { return a.sessions }

// Machine returns the session rules new sessions start with.
func (a *App) Machine() *session.Machine { return a.machine.Load() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. On cancellation it marks the process as
// draining, cancels live voice sessions, and stops the server, all within
// the configured shutdown timeout. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.drain(server)
	})

	return g.Wait()
}

// drain runs the shutdown sequence under the configured timeout.
func (a *App) drain(server *http.Server) error {
	a.log.Info("shutting down", "live_sessions", a.sessions.Len())
	a.health.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.sessions.Shutdown(ctx); err != nil {
		a.log.Warn("sessions did not drain in time", "remaining", a.sessions.Len())
		errs = append(errs, fmt.Errorf("drain sessions: %w", err))
	}
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop server: %w", err))
	}
	return errors.Join(errs...)
}

// ─── Close ───────────────────────────────────────────────────────────────────

// Close releases stores and clients in the order they were opened. It is
// safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// gateHolder lets the pipeline and the session machines share one swappable
// quality gate.
type gateHolder struct {
	g atomic.Pointer[gate.Gate]
}

var (
	_ feedback.TranscriptGate = (*gateHolder)(nil)
	_ session.Validator       = (*gateHolder)(nil)
)

func newGateHolder(cfg gate.Config) *gateHolder {
	h := &gateHolder{}
	h.g.Store(gate.New(cfg))
	return h
}

func (h *gateHolder) Validate(turns []interview.Turn) gate.Result {
	return h.g.Load().Validate(turns)
}

// Reload applies the hot-reloadable differences between old and next. Live
// sessions keep the rules they started with; new sessions pick up the
// change. It is meant as the [config.Watcher] callback.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged {
		a.level.Set(Level(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.GateChanged {
		a.gate.g.Store(gate.New(next.Gate))
		a.log.Info("quality gate reloaded")
	}
	if len(d.TemplatesChanged) > 0 {
		a.pipeline.Templates().Replace(next.Feedback.Templates)
		a.log.Info("prompt templates reloaded", "languages", d.TemplatesChanged)
	}
	if d.PersonasChanged != nil || d.RoutesChanged {
		a.machine.Store(a.buildMachine(next))
		a.log.Info("session rules reloaded", "personas", d.PersonasChanged, "routes", d.RoutesChanged)
	}
	if d.RestartRequired {
		a.log.Warn("config changes outside the hot-reloadable set take effect after a restart")
	}
}

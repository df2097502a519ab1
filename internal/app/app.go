// Package app wires all rehearse subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves rehearsal connections, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithScriptStore,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/internal/health"
	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/rehearsal"
	"github.com/MrWong99/rehearse/internal/resilience"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/script/postgres"
	"github.com/MrWong99/rehearse/internal/server"
	"github.com/MrWong99/rehearse/internal/verify"
	"github.com/MrWong99/rehearse/pkg/provider/stt"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// Named pairs a provider with the name it is registered under.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the speech providers. A nil STT or TTS means the slot is
// not configured. Populated by main.go via the config registry.
type Providers struct {
	STT          stt.Provider
	STTName      string
	STTFallbacks []Named[stt.Provider]

	TTS     tts.Provider
	TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	listener       net.Listener

	// Script sources: the YAML files (swapped on reload) in front of the
	// database or an injected store.
	files   *fileStore
	backing script.Store
	scripts script.Chain

	verifier atomic.Pointer[verify.Verifier]
	stt      stt.Provider
	tts      tts.Provider
	sttGroup *resilience.STTFallback

	health *health.Handler
	server *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithScriptStore injects a script store instead of connecting to
// scripts.postgres_dsn. Script files are still consulted first.
func WithScriptStore(s script.Store) Option {
	return func(a *App) { a.backing = s }
}

// WithMetrics injects the metric instruments instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted at telemetry.metrics_path,
// typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = l }
}

// WithListener makes Run serve on ln instead of server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: script files are loaded,
// the database is connected and migrated, providers are wrapped in circuit
// breakers, and the HTTP server is built.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		files:     &fileStore{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Scripts ───────────────────────────────────────────────────────
	if err := a.initScripts(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init scripts: %w", err)
	}

	// ── 2. Verifier ──────────────────────────────────────────────────────
	a.verifier.Store(a.buildVerifier(cfg.Verification))

	// ── 3. Providers ─────────────────────────────────────────────────────
	a.initProviders()

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.PingChecker("scripts", a.scripts),
		health.Checker{Name: "stt", Check: a.checkSTT},
	)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	srvCfg := server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		WSPath:         cfg.Server.WSPath,
		NewSession:     a.newSession,
		ReadLimit:      cfg.Server.ReadLimitBytes,
		IdleTimeout:    cfg.Session.IdleTimeout,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsPath:    cfg.Telemetry.MetricsPath,
		MetricsHandler: a.metricsHandler,
	}
	if tls := cfg.Server.TLS; tls != nil {
		srvCfg.CertFile, srvCfg.KeyFile = tls.CertFile, tls.KeyFile
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = srv

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initScripts loads the script files and connects the database.
func (a *App) initScripts(ctx context.Context) error {
	if err := a.reloadScriptFiles(a.cfg.Scripts.Files); err != nil {
		return err
	}

	if a.backing == nil && a.cfg.Scripts.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, a.cfg.Scripts.PostgresDSN)
		if err != nil {
			return err
		}
		a.backing = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("connected script database")
	}

	a.scripts = script.Chain{a.files}
	if a.backing != nil {
		a.scripts = append(a.scripts, a.backing)
	}
	return nil
}

// reloadScriptFiles replaces the file-backed scripts. On error the previous
// set stays active.
func (a *App) reloadScriptFiles(paths []string) error {
	mem, err := script.LoadFiles(paths...)
	if err != nil {
		return err
	}
	a.files.store.Store(mem)
	if len(paths) > 0 {
		slog.Info("loaded script files", "files", len(paths), "scripts", len(mem.IDs()))
	}
	return nil
}

func (a *App) buildVerifier(t verify.Thresholds) *verify.Verifier {
	return verify.New(
		verify.WithThresholds(t),
		verify.WithCalibrationSink(observe.NewCalibrationRecorder(a.metrics)),
		verify.WithMetrics(a.metrics),
	)
}

// initProviders wraps the configured providers in circuit breakers. STT
// fallbacks are tried in configuration order.
func (a *App) initProviders() {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: a.cfg.Resilience.CircuitBreaker}
	fbCfg.CircuitBreaker.OnStateChange = a.breakerChanged

	if p := a.providers; p.STT != nil {
		group := resilience.NewSTTFallback(p.STT, p.STTName, fbCfg)
		for _, fb := range p.STTFallbacks {
			group.AddFallback(fb.Name, fb.Provider)
		}
		a.stt, a.sttGroup = group, group
		slog.Info("speech-to-text ready", "provider", p.STTName, "fallbacks", len(p.STTFallbacks))
	} else {
		slog.Warn("no speech-to-text provider; audio will be answered with transcription unavailable")
	}

	if p := a.providers; p.TTS != nil {
		a.tts = resilience.NewTTSFallback(p.TTS, p.TTSName, fbCfg)
		slog.Info("text-to-speech ready", "provider", p.TTSName)
	}
}

// breakerChanged records a provider circuit breaker transition.
func (a *App) breakerChanged(name string, from, to resilience.State) {
	a.metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
}

// checkSTT fails readiness while no transcription backend can take a call.
func (a *App) checkSTT(context.Context) error {
	switch {
	case a.sttGroup == nil:
		return errors.New("no speech-to-text provider configured")
	case !a.sttGroup.Available():
		var names []string
		for _, b := range a.sttGroup.Status() {
			names = append(names, b.Name)
		}
		return fmt.Errorf("circuit open for every speech-to-text backend (%s)", strings.Join(names, ", "))
	}
	return nil
}

// newSession is the per-connection session factory handed to the server.
func (a *App) newSession(emitter rehearsal.Emitter) (*rehearsal.Session, error) {
	return rehearsal.New(rehearsal.Deps{
		Scripts:       a.scripts,
		STT:           a.stt,
		STTName:       a.providers.STTName,
		TTS:           a.tts,
		TTSName:       a.providers.TTSName,
		Voice:         tts.Voice{ID: a.cfg.Session.VoiceID},
		Verifier:      a.verifier.Load(),
		Emitter:       emitter,
		Metrics:       a.metrics,
		AudioMIMEType: a.cfg.Session.AudioMIMEType,
		PendingAudio:  a.cfg.Session.PendingAudio,
	})
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving all routes.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Sessions returns the live session registry.
func (a *App) Sessions() *server.Manager { return a.server.Manager() }

// Scripts returns the script store chain sessions read from.
func (a *App) Scripts() script.Store { return a.scripts }

// Verifier returns the verifier handed to new sessions.
func (a *App) Verifier() *verify.Verifier { return a.verifier.Load() }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: log level,
// verification thresholds and script files. Running sessions keep the
// verifier they started with. It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		a.verifier.Store(a.buildVerifier(next.Verification))
		slog.Info("verification thresholds changed",
			"perfect", next.Verification.Perfect,
			"passable", next.Verification.Passable,
			"filler_rescue", next.Verification.FillerRescue,
		)
	}

	// The watcher also fires when only a script file's content changed, so
	// always reload.
	if err := a.reloadScriptFiles(next.Scripts.Files); err != nil {
		slog.Warn("script reload failed, keeping previous scripts", "err", err)
	} else if d.ScriptFilesChanged {
		slog.Info("script files changed", "added", d.AddedFiles, "removed", d.RemovedFiles)
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "keys", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and WebSocket traffic and blocks until ctx is cancelled or
// the server fails. On cancellation it returns ctx.Err(); call Shutdown
// afterwards to close live sessions.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if a.listener != nil {
			errCh <- a.server.Serve(a.listener)
			return
		}
		errCh <- a.server.ListenAndServe()
	}()

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "ws_path", a.cfg.Server.WSPath)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == nil {
			return errors.New("app: server stopped unexpectedly")
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the server, waits for live sessions and closes the
// remaining subsystems. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.server.Manager().Len(), "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config log level to its slog equivalent. Unknown
// values map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fileStore is the swappable file-backed member of the script chain.
type fileStore struct {
	store atomic.Pointer[script.MemStore]
}

func (f *fileStore) current() *script.MemStore {
	if m := f.store.Load(); m != nil {
		return m
	}
	return &script.MemStore{}
}

func (f *fileStore) Get(ctx context.Context, id int64) (script.Script, error) {
	return f.current().Get(ctx, id)
}

func (f *fileStore) Line(ctx context.Context, id int64, index int) (script.Line, error) {
	return f.current().Line(ctx, id, index)
}

func (f *fileStore) Ping(context.Context) error { return nil }

var _ script.Store = (*fileStore)(nil)

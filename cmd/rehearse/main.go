// Command rehearse is the line-rehearsal verification server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/rehearse/internal/app"
	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/pkg/provider/stt"
	geministt "github.com/MrWong99/rehearse/pkg/provider/stt/gemini"
	openaistt "github.com/MrWong99/rehearse/pkg/provider/stt/openai"
	"github.com/MrWong99/rehearse/pkg/provider/stt/whisper"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
	"github.com/MrWong99/rehearse/pkg/provider/tts/elevenlabs"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: defaults and environment only)")
	envFile := flag.String("env-file", ".env", "dotenv file read before the environment overlay")
	importFile := flag.String("import", "", "insert the scripts of this YAML file into the database and exit")
	watch := flag.Bool("watch", true, "reload log level, thresholds and script files when the config file changes")
	flag.Parse()

	envRequired := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "env-file" {
			envRequired = true
		}
	})

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnvFile(*envFile, envRequired); err != nil {
		fmt.Fprintf(os.Stderr, "rehearse: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rehearse: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rehearse: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(observe.NewTraceHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))))

	slog.Info("rehearse starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *importFile != "" {
		if err := importScripts(ctx, cfg.Scripts.PostgresDSN, *importFile); err != nil {
			slog.Error("import failed", "file", *importFile, "err", err)
			return 1
		}
		return 0
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(os.Stdout, cfg, providers)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithLogLevel(&level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithLoader(loadWithEnv))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err != nil {
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
			}
		}
	}
}

// loadConfig reads path (or the defaults) and overlays the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnvironment(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadWithEnv(r io.Reader) (*config.Config, error) {
	cfg, err := config.LoadFromReader(r)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnvironment(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("gemini", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []geministt.Option
		if entry.Model != "" {
			opts = append(opts, geministt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geministt.WithBaseURL(entry.BaseURL))
		}
		return geministt.New(context.Background(), entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []openaistt.Option
		if entry.Model != "" {
			opts = append(opts, openaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, openaistt.WithLanguage(lang))
		}
		return openaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if path := entry.OptionString("endpoint_path"); path != "" {
			opts = append(opts, whisper.WithEndpointPath(path))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoiceID(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	slog.Debug("providers registered", "stt", reg.Names("stt"), "tts", reg.Names("tts"))
}

// buildProviders instantiates the providers named in cfg. A provider that
// lacks its credential is skipped with a warning so the server still starts
// and reports itself unready; any other construction error is fatal.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := create(reg.CreateSTT, "stt", entry)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.STT, ps.STTName = p, entry.Name
		}
	}

	for i, entry := range cfg.Providers.STTFallbacks {
		p, err := create(reg.CreateSTT, "stt", entry)
		if err != nil {
			return nil, fmt.Errorf("stt fallback %d: %w", i, err)
		}
		if p == nil {
			continue
		}
		if ps.STT == nil {
			ps.STT, ps.STTName = p, entry.Name
			continue
		}
		ps.STTFallbacks = append(ps.STTFallbacks, app.Named[stt.Provider]{Name: entry.Name, Provider: p})
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := create(reg.CreateTTS, "tts", entry)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.TTS, ps.TTSName = p, entry.Name
		}
	}

	return ps, nil
}

// create runs one registry factory. It returns a nil provider and no error
// when the provider is unknown or not configured.
func create[T any](factory func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	p, err := factory(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("unknown provider, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case errors.Is(err, stt.ErrNotConfigured), errors.Is(err, tts.ErrNotConfigured):
		slog.Warn("provider not configured, skipping", "kind", kind, "name", entry.Name, "err", err)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, ps *app.Providers) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        rehearse: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", ps.STTName, cfg.Providers.STT.Model)
	fmt.Fprintf(w, "║  STT fallbacks   : %-19d ║\n", len(ps.STTFallbacks))
	printProvider(w, "TTS", ps.TTSName, cfg.Providers.TTS.Model)
	scripts := "(none)"
	switch {
	case cfg.Scripts.PostgresDSN != "" && len(cfg.Scripts.Files) > 0:
		scripts = fmt.Sprintf("postgres + %d files", len(cfg.Scripts.Files))
	case cfg.Scripts.PostgresDSN != "":
		scripts = "postgres"
	case len(cfg.Scripts.Files) > 0:
		scripts = fmt.Sprintf("%d files", len(cfg.Scripts.Files))
	}
	fmt.Fprintf(w, "║  Scripts         : %-19s ║\n", scripts)
	th := cfg.Verification
	fmt.Fprintf(w, "║  Thresholds      : %-19s ║\n", fmt.Sprintf("%.2f/%.2f/%.2f", th.Perfect, th.Passable, th.FillerRescue))
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr+cfg.Server.WSPath)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

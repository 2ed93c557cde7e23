// Command lingolens is the main entry point for the lingolens translation
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lingolens/internal/app"
	"github.com/MrWong99/lingolens/internal/config"
	"github.com/MrWong99/lingolens/internal/observe"
	"github.com/MrWong99/lingolens/internal/resilience"
	"github.com/MrWong99/lingolens/pkg/media/ffmpeg"
	"github.com/MrWong99/lingolens/pkg/provider/ocr"
	"github.com/MrWong99/lingolens/pkg/provider/ocr/httpocr"
	"github.com/MrWong99/lingolens/pkg/provider/stt"
	"github.com/MrWong99/lingolens/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/lingolens/pkg/provider/stt/openai"
	"github.com/MrWong99/lingolens/pkg/provider/stt/whisper"
	"github.com/MrWong99/lingolens/pkg/provider/translate"
	"github.com/MrWong99/lingolens/pkg/provider/translate/azure"
	llmtranslate "github.com/MrWong99/lingolens/pkg/provider/translate/llm"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingolens: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingolens: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&logLevel))

	slog.Info("lingolens starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "lingolens",
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff) {
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go w.Run(ctx)
			go reloadOnHangup(ctx, w)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmNames are the translate providers backed by any-llm-go.
var anyllmNames = []string{
	"openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, whisper.WithTemperature(temp))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "silence_threshold"); ok {
			opts = append(opts, whisper.WithNativeSilenceThreshold(rms))
		}
		if n, ok := optFloat(entry.Options, "threads"); ok {
			opts = append(opts, whisper.WithThreads(int(n)))
		}
		if n, ok := optFloat(entry.Options, "concurrency"); ok {
			opts = append(opts, whisper.WithConcurrency(int(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oastt.WithOrganization(org))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		if temp, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, oastt.WithTemperature(temp))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if list := optString(entry.Options, "keyterms"); list != "" {
			terms := strings.Split(list, ",")
			for i := range terms {
				terms[i] = strings.TrimSpace(terms[i])
			}
			opts = append(opts, deepgram.WithKeyterms(terms...))
		}
		if c, ok := optFloat(entry.Options, "min_confidence"); ok {
			opts = append(opts, deepgram.WithMinConfidence(c))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("azure", func(entry config.ProviderEntry) (translate.Translator, error) {
		var opts []azure.Option
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		if region := optString(entry.Options, "region"); region != "" {
			opts = append(opts, azure.WithRegion(region))
		}
		return azure.New(entry.APIKey, opts...)
	})

	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllmNames {
		reg.RegisterTranslate(providerName, func(entry config.ProviderEntry) (translate.Translator, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return llmtranslate.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterTranslate("ollama", func(entry config.ProviderEntry) (translate.Translator, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llmtranslate.New("ollama", entry.Model, opts...)
	})

	// ── OCR ───────────────────────────────────────────────────────────────────

	reg.RegisterOCR("http", func(entry config.ProviderEntry) (ocr.Detector, error) {
		var opts []httpocr.Option
		if entry.APIKey != "" {
			opts = append(opts, httpocr.WithAPIKey(entry.APIKey))
		}
		if c, ok := optFloat(entry.Options, "min_confidence"); ok {
			opts = append(opts, httpocr.WithMinConfidence(c))
		}
		return httpocr.New(entry.BaseURL, opts...)
	})

	for _, kind := range []string{"stt", "translate", "ocr"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Every backend sits behind its own circuit breaker and configured fallbacks
// are tried after the primary.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	bo := breakerOptions(cfg.Providers.Breaker)

	// ── STT ───────────────────────────────────────────────────────────────────
	if cfg.Providers.STT.Name == "" {
		return nil, errors.New("providers.stt is required")
	}
	rec, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	recognizers := resilience.NewRecognizerFallback(cfg.Providers.STT.Name, rec, bo...)
	for _, entry := range cfg.Providers.STT.Fallbacks {
		r, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		recognizers.Add(entry.Name, r)
	}
	ps.Recognizer, ps.RecognizerName = recognizers, cfg.Providers.STT.Name
	slog.Info("provider created", "kind", "stt", "chain", recognizers.Names())

	// ── Translate ─────────────────────────────────────────────────────────────
	if cfg.Providers.Translate.Name == "" {
		return nil, errors.New("providers.translate is required")
	}
	tr, err := reg.CreateTranslate(cfg.Providers.Translate)
	if err != nil {
		return nil, fmt.Errorf("create translate provider %q: %w", cfg.Providers.Translate.Name, err)
	}
	translators := resilience.NewTranslatorFallback(cfg.Providers.Translate.Name, tr, bo...)
	for _, entry := range cfg.Providers.Translate.Fallbacks {
		t, err := reg.CreateTranslate(entry)
		if err != nil {
			return nil, fmt.Errorf("create translate fallback %q: %w", entry.Name, err)
		}
		translators.Add(entry.Name, t)
	}
	ps.Translator, ps.TranslatorName = translators, cfg.Providers.Translate.Name
	slog.Info("provider created", "kind", "translate", "chain", translators.Names())

	// ── OCR ───────────────────────────────────────────────────────────────────
	if cfg.Providers.OCR.Name == "" {
		return nil, errors.New("providers.ocr is required")
	}
	det, err := reg.CreateOCR(cfg.Providers.OCR)
	if err != nil {
		return nil, fmt.Errorf("create ocr provider %q: %w", cfg.Providers.OCR.Name, err)
	}
	detectors := resilience.NewDetectorFallback(cfg.Providers.OCR.Name, det, bo...)
	for _, entry := range cfg.Providers.OCR.Fallbacks {
		d, err := reg.CreateOCR(entry)
		if err != nil {
			return nil, fmt.Errorf("create ocr fallback %q: %w", entry.Name, err)
		}
		detectors.Add(entry.Name, d)
	}
	ps.Detector, ps.DetectorName = detectors, cfg.Providers.OCR.Name
	slog.Info("provider created", "kind", "ocr", "chain", detectors.Names())

	// ── Media tooling ─────────────────────────────────────────────────────────
	var ffOpts []ffmpeg.Option
	if p := cfg.Providers.Transcoder.FFmpegPath; p != "" {
		ffOpts = append(ffOpts, ffmpeg.WithFFmpegPath(p))
	}
	if p := cfg.Providers.Transcoder.FFprobePath; p != "" {
		ffOpts = append(ffOpts, ffmpeg.WithFFprobePath(p))
	}
	ff := ffmpeg.New(ffOpts...)
	if err := ff.CheckInstallation(ctx); err != nil {
		return nil, fmt.Errorf("media tooling: %w", err)
	}
	ps.Transcoder = ff
	ps.Opener = ff

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        lingolens, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Translate", cfg.Providers.Translate.Name, cfg.Providers.Translate.Model)
	printProvider("OCR", cfg.Providers.OCR.Name, cfg.Providers.OCR.Model)
	fmt.Printf("║  Languages       : %-19s ║\n", langPair(cfg.Pipeline.SourceLanguage, cfg.Pipeline.TargetLanguage))
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func langPair(source, target string) string {
	if source == "" {
		source = "auto"
	}
	return source + " -> " + target
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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

// ── Helpers ───────────────────────────────────────────────────────────────────

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
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
				slog.Warn("reload on SIGHUP failed", "err", err)
			}
		}
	}
}

// breakerOptions configures the breaker in front of every provider backend.
// Transitions are counted on the default metrics.
func breakerOptions(cfg config.BreakerConfig) []resilience.BreakerOption {
	return []resilience.BreakerOption{
		resilience.WithThreshold(cfg.MaxFailures),
		resilience.WithCooldown(cfg.Cooldown),
		resilience.WithProbes(cfg.Probes),
		resilience.WithStateHook(func(name string, _, to resilience.State) {
			observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, to.String())
		}),
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes
// integers as int, so both int and float64 are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

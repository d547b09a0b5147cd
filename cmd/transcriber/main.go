package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattermost/file-transcriber/cmd/transcriber/batch"
	"github.com/mattermost/file-transcriber/cmd/transcriber/config"
)

const (
	envFile = ".env"
)

func slogReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		if source.File == "" {
			// Log from a dependency (e.g. badger).
			if pc, file, line, ok := runtime.Caller(7); ok {
				if f := runtime.FuncForPC(pc); f != nil {
					source.File = filepath.Base(filepath.Dir(file)) + "/" + filepath.Base(file)
					source.Line = line
				}
			}
		} else {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

type flags struct {
	configFile     string
	debug          bool
	modelsDir      string
	modelSize      string
	modelFile      string
	melFiltersFile string
	tokenizerFile  string
	numThreads     int
	numWorkers     int
	maxDecodeSteps int
	resampleMode   string
	outputDir      string
	outputFormat   string
	cacheDir       string
	cacheTTL       time.Duration
}

func newRootCmd() *cobra.Command {
	exts := newLoader(config.TranscriberConfig{}).Extensions()
	cmd := &cobra.Command{
		Use:           "transcriber [flags] FILE...",
		Short:         "Transcribe audio files into subtitles using a Whisper model",
		Long:          "Transcribe audio files into subtitles using a Whisper model.\n\nSupported inputs: " + strings.Join(exts, ", "),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := bindFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		setupLogger(f.debug)

		cfg, err := loadConfig(cmd, *f)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, args)
	}

	return cmd
}

func bindFlags(cmd *cobra.Command) *flags {
	var f flags
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "path to a YAML config file")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.StringVar(&f.modelsDir, "models-dir", "", "directory holding model files")
	fs.StringVar(&f.modelSize, "model-size", "", "model size (tiny, base, small, medium, large, large-v3)")
	fs.StringVar(&f.modelFile, "model", "", "path to the GGML model file")
	fs.StringVar(&f.melFiltersFile, "mel-filters", "", "path to the mel filterbank file")
	fs.StringVar(&f.tokenizerFile, "tokenizer", "", "path to a tokenizer.json file")
	fs.IntVar(&f.numThreads, "threads", 0, "threads per transcriber")
	fs.IntVar(&f.numWorkers, "workers", 0, "number of concurrent transcribers")
	fs.IntVar(&f.maxDecodeSteps, "max-decode-steps", 0, "maximum number of decode steps per file")
	fs.StringVar(&f.resampleMode, "resample", "", "resample mode (decimate, bandlimited)")
	fs.StringVar(&f.outputDir, "output-dir", "", "directory the outputs are written to")
	fs.StringVar(&f.outputFormat, "format", "", "output format (srt, vtt, text)")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "transcription cache directory, empty disables caching")
	fs.DurationVar(&f.cacheTTL, "cache-ttl", 0, "transcription cache TTL (e.g. 24h)")
	return &f
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: slogReplaceAttr,
	}))
	slog.SetDefault(logger)
}

// loadConfig builds the config from the environment, the optional config
// file and the command flags, in increasing order of precedence.
func loadConfig(cmd *cobra.Command, f flags) (config.TranscriberConfig, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.TranscriberConfig{}, err
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}

	if f.configFile != "" {
		if err := cfg.FromFile(f.configFile); err != nil {
			return cfg, err
		}
	}

	fs := cmd.Flags()
	m := map[string]any{}
	setIfChanged := func(name, key string, val any) {
		if fs.Changed(name) {
			m[key] = val
		}
	}
	setIfChanged("models-dir", "models_dir", f.modelsDir)
	setIfChanged("model-size", "model_size", f.modelSize)
	setIfChanged("model", "model_file", f.modelFile)
	setIfChanged("mel-filters", "mel_filters_file", f.melFiltersFile)
	setIfChanged("tokenizer", "tokenizer_file", f.tokenizerFile)
	setIfChanged("threads", "num_threads", f.numThreads)
	setIfChanged("workers", "num_workers", f.numWorkers)
	setIfChanged("max-decode-steps", "max_decode_steps", f.maxDecodeSteps)
	setIfChanged("resample", "resample_mode", f.resampleMode)
	setIfChanged("output-dir", "output_dir", f.outputDir)
	setIfChanged("format", "output_format", f.outputFormat)
	setIfChanged("cache-dir", "cache_dir", f.cacheDir)
	cfg.FromMap(m)
	if fs.Changed("cache-ttl") {
		cfg.CacheTTL = f.cacheTTL
	}

	cfg.SetDefaults()
	if err := cfg.IsValid(); err != nil {
		return cfg, fmt.Errorf("failed to validate config: %w", err)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config.TranscriberConfig, paths []string) error {
	slog.Info("starting transcriber",
		slog.String("modelSize", string(cfg.ModelSize)),
		slog.String("modelFile", cfg.ModelFile),
		slog.Int("numWorkers", cfg.NumWorkers),
		slog.Int("numThreads", cfg.NumThreads),
		slog.String("outputFormat", string(cfg.OutputFormat)))

	factory, err := newTranscriberFactory(cfg)
	if err != nil {
		return err
	}

	t, err := batch.NewTranscriber(cfg, newLoader(cfg), factory)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			slog.Error("failed to close transcriber", slog.String("err", err.Error()))
		}
	}()

	results, err := t.Run(ctx, paths)
	if err != nil {
		return fmt.Errorf("transcriber failed: %w", err)
	}

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		fmt.Println(res.Output)
	}
	if failed > 0 {
		return fmt.Errorf("failed to transcribe %d of %d files", failed, len(results))
	}

	slog.Info("transcriber has finished, exiting")

	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("transcriber failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

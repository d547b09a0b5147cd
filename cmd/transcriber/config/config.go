package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
	"github.com/mattermost/file-transcriber/cmd/transcriber/decoder"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

const (
	// defaults
	ModelsDirDefault      = "models"
	ModelSizeDefault      = ModelSizeBase
	TranscribeAPIDefault  = TranscribeAPIWhisperCPP
	OutputFormatDefault   = OutputFormatSRT
	OutputDirDefault      = "."
	ResampleModeDefault   = audio.ResampleModeDecimate
	MaxDecodeStepsDefault = decoder.DefaultMaxSteps
)

type OutputFormat string

const (
	OutputFormatSRT  OutputFormat = "srt"
	OutputFormatVTT  OutputFormat = "vtt"
	OutputFormatText OutputFormat = "text"
)

func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatSRT, OutputFormatVTT, OutputFormatText:
		return true
	default:
		return false
	}
}

// Extension returns the file extension used for outputs in this format.
func (f OutputFormat) Extension() string {
	switch f {
	case OutputFormatText:
		return ".txt"
	default:
		return "." + string(f)
	}
}

type ModelSize string

const (
	ModelSizeTiny    ModelSize = "tiny"
	ModelSizeBase    ModelSize = "base"
	ModelSizeSmall   ModelSize = "small"
	ModelSizeMedium  ModelSize = "medium"
	ModelSizeLarge   ModelSize = "large"
	ModelSizeLargeV3 ModelSize = "large-v3"
)

func (p ModelSize) IsValid() bool {
	switch p {
	case ModelSizeTiny, ModelSizeBase, ModelSizeSmall, ModelSizeMedium, ModelSizeLarge, ModelSizeLargeV3:
		return true
	default:
		return false
	}
}

// NumMels returns the number of mel bands the model size expects.
func (p ModelSize) NumMels() int {
	if p == ModelSizeLargeV3 {
		return 128
	}
	return 80
}

type TranscribeAPI string

const (
	TranscribeAPIWhisperCPP TranscribeAPI = "whisper.cpp"
)

func (a TranscribeAPI) IsValid() bool {
	switch a {
	case TranscribeAPIWhisperCPP:
		return true
	default:
		return false
	}
}

type OutputOptions struct {
	WebVTT transcribe.WebVTTOptions
	Text   transcribe.TextOptions
}

type TranscriberConfig struct {
	// model config
	ModelsDir      string
	ModelSize      ModelSize
	ModelFile      string
	MelFiltersFile string
	// TokenizerFile optionally points to a tokenizer.json file. When empty
	// the model's own vocabulary is used.
	TokenizerFile string
	TranscribeAPI TranscribeAPI

	// processing config
	NumThreads     int
	NumWorkers     int
	MaxDecodeSteps int
	ResampleMode   audio.ResampleMode

	// output config
	OutputDir     string
	OutputFormat  OutputFormat
	OutputOptions OutputOptions

	// cache config, caching is disabled when CacheDir is empty.
	CacheDir string
	CacheTTL time.Duration
}

func (cfg TranscriberConfig) IsValid() error {
	if cfg == (TranscriberConfig{}) {
		return fmt.Errorf("config cannot be empty")
	}
	if !cfg.TranscribeAPI.IsValid() {
		return fmt.Errorf("TranscribeAPI value is not valid")
	}
	if !cfg.ModelSize.IsValid() {
		return fmt.Errorf("ModelSize value is not valid")
	}
	if cfg.ModelFile == "" {
		return fmt.Errorf("ModelFile cannot be empty")
	}
	if cfg.MelFiltersFile == "" {
		return fmt.Errorf("MelFiltersFile cannot be empty")
	}
	if !cfg.OutputFormat.IsValid() {
		return fmt.Errorf("OutputFormat value is not valid")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("OutputDir cannot be empty")
	}
	if numCPU := runtime.NumCPU(); cfg.NumThreads < 1 || cfg.NumThreads > numCPU {
		return fmt.Errorf("NumThreads should be in the range [1, %d]", numCPU)
	}
	if cfg.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers should be a positive number")
	}
	if cfg.MaxDecodeSteps < 1 {
		return fmt.Errorf("MaxDecodeSteps should be a positive number")
	}
	if err := cfg.ResampleMode.IsValid(); err != nil {
		return fmt.Errorf("ResampleMode value is not valid")
	}
	if cfg.CacheTTL < 0 {
		return fmt.Errorf("CacheTTL should not be negative")
	}

	if err := cfg.OutputOptions.Text.IsValid(); err != nil {
		return err
	}

	return cfg.OutputOptions.WebVTT.IsValid()
}

func (cfg *TranscriberConfig) SetDefaults() {
	if cfg.TranscribeAPI == "" {
		cfg.TranscribeAPI = TranscribeAPIDefault
	}

	if cfg.ModelsDir == "" {
		cfg.ModelsDir = ModelsDirDefault
	}

	if cfg.ModelSize == "" {
		cfg.ModelSize = ModelSizeDefault
	}

	if cfg.ModelFile == "" {
		cfg.ModelFile = filepath.Join(cfg.ModelsDir, fmt.Sprintf("ggml-%s.bin", cfg.ModelSize))
	}

	if cfg.MelFiltersFile == "" {
		cfg.MelFiltersFile = filepath.Join(cfg.ModelsDir, fmt.Sprintf("mel_filters_%d.bin", cfg.ModelSize.NumMels()))
	}

	if cfg.OutputFormat == "" {
		cfg.OutputFormat = OutputFormatDefault
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = OutputDirDefault
	}

	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 1
	}

	if cfg.NumThreads == 0 {
		cfg.NumThreads = max(1, runtime.NumCPU()/(2*cfg.NumWorkers))
	}

	if cfg.MaxDecodeSteps == 0 {
		cfg.MaxDecodeSteps = MaxDecodeStepsDefault
	}

	if cfg.ResampleMode == "" {
		cfg.ResampleMode = ResampleModeDefault
	}

	if cfg.OutputOptions.WebVTT.IsEmpty() {
		cfg.OutputOptions.WebVTT.SetDefaults()
	}

	if cfg.OutputOptions.Text.IsEmpty() {
		cfg.OutputOptions.Text.SetDefaults()
	}
}

func (cfg TranscriberConfig) ToEnv() []string {
	if cfg == (TranscriberConfig{}) {
		return nil
	}

	vars := []string{
		fmt.Sprintf("MODELS_DIR=%s", cfg.ModelsDir),
		fmt.Sprintf("MODEL_SIZE=%s", cfg.ModelSize),
		fmt.Sprintf("MODEL_FILE=%s", cfg.ModelFile),
		fmt.Sprintf("MEL_FILTERS_FILE=%s", cfg.MelFiltersFile),
		fmt.Sprintf("TOKENIZER_FILE=%s", cfg.TokenizerFile),
		fmt.Sprintf("TRANSCRIBE_API=%s", cfg.TranscribeAPI),
		fmt.Sprintf("NUM_THREADS=%d", cfg.NumThreads),
		fmt.Sprintf("NUM_WORKERS=%d", cfg.NumWorkers),
		fmt.Sprintf("MAX_DECODE_STEPS=%d", cfg.MaxDecodeSteps),
		fmt.Sprintf("RESAMPLE_MODE=%s", cfg.ResampleMode),
		fmt.Sprintf("OUTPUT_DIR=%s", cfg.OutputDir),
		fmt.Sprintf("OUTPUT_FORMAT=%s", cfg.OutputFormat),
		fmt.Sprintf("CACHE_DIR=%s", cfg.CacheDir),
		fmt.Sprintf("CACHE_TTL=%s", cfg.CacheTTL),
	}

	vars = append(vars, cfg.OutputOptions.WebVTT.ToEnv()...)
	vars = append(vars, cfg.OutputOptions.Text.ToEnv()...)

	return vars
}

func (cfg TranscriberConfig) ToMap() map[string]any {
	if cfg == (TranscriberConfig{}) {
		return nil
	}

	m := map[string]any{
		"models_dir":       cfg.ModelsDir,
		"model_size":       cfg.ModelSize,
		"model_file":       cfg.ModelFile,
		"mel_filters_file": cfg.MelFiltersFile,
		"tokenizer_file":   cfg.TokenizerFile,
		"transcribe_api":   cfg.TranscribeAPI,
		"num_threads":      cfg.NumThreads,
		"num_workers":      cfg.NumWorkers,
		"max_decode_steps": cfg.MaxDecodeSteps,
		"resample_mode":    cfg.ResampleMode,
		"output_dir":       cfg.OutputDir,
		"output_format":    cfg.OutputFormat,
		"cache_dir":        cfg.CacheDir,
		"cache_ttl":        cfg.CacheTTL.String(),
	}

	for k, v := range cfg.OutputOptions.WebVTT.ToMap() {
		m[k] = v
	}
	for k, v := range cfg.OutputOptions.Text.ToMap() {
		m[k] = v
	}

	return m
}

// intFromMap reads an int that can either be int or float64 depending on
// whether it's been previously marshaled or not.
func intFromMap(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// FromMap sets the fields present in m, leaving the others untouched.
func (cfg *TranscriberConfig) FromMap(m map[string]any) *TranscriberConfig {
	for key, dst := range map[string]*string{
		"models_dir":       &cfg.ModelsDir,
		"model_file":       &cfg.ModelFile,
		"mel_filters_file": &cfg.MelFiltersFile,
		"tokenizer_file":   &cfg.TokenizerFile,
		"output_dir":       &cfg.OutputDir,
		"cache_dir":        &cfg.CacheDir,
	} {
		if val, ok := m[key].(string); ok {
			*dst = val
		}
	}

	for key, dst := range map[string]*int{
		"num_threads":      &cfg.NumThreads,
		"num_workers":      &cfg.NumWorkers,
		"max_decode_steps": &cfg.MaxDecodeSteps,
	} {
		if val, ok := intFromMap(m, key); ok {
			*dst = val
		}
	}

	if api, ok := m["transcribe_api"].(string); ok {
		cfg.TranscribeAPI = TranscribeAPI(api)
	} else if api, ok := m["transcribe_api"].(TranscribeAPI); ok {
		cfg.TranscribeAPI = api
	}
	if modelSize, ok := m["model_size"].(string); ok {
		cfg.ModelSize = ModelSize(modelSize)
	} else if modelSize, ok := m["model_size"].(ModelSize); ok {
		cfg.ModelSize = modelSize
	}
	if outputFormat, ok := m["output_format"].(string); ok {
		cfg.OutputFormat = OutputFormat(outputFormat)
	} else if outputFormat, ok := m["output_format"].(OutputFormat); ok {
		cfg.OutputFormat = outputFormat
	}
	if mode, ok := m["resample_mode"].(string); ok {
		cfg.ResampleMode = audio.ResampleMode(mode)
	} else if mode, ok := m["resample_mode"].(audio.ResampleMode); ok {
		cfg.ResampleMode = mode
	}
	if ttl, ok := m["cache_ttl"].(string); ok {
		cfg.CacheTTL, _ = time.ParseDuration(ttl)
	}

	if _, ok := m["webvtt_omit_source"]; ok {
		cfg.OutputOptions.WebVTT.FromMap(m)
	}
	if _, ok := m["text_compact_silence_threshold_ms"]; ok {
		cfg.OutputOptions.Text.FromMap(m)
	}

	return cfg
}

func FromEnv() (TranscriberConfig, error) {
	var cfg TranscriberConfig
	cfg.ModelsDir = os.Getenv("MODELS_DIR")
	cfg.ModelFile = os.Getenv("MODEL_FILE")
	cfg.MelFiltersFile = os.Getenv("MEL_FILTERS_FILE")
	cfg.TokenizerFile = os.Getenv("TOKENIZER_FILE")
	cfg.OutputDir = os.Getenv("OUTPUT_DIR")
	cfg.CacheDir = os.Getenv("CACHE_DIR")
	cfg.NumThreads, _ = strconv.Atoi(os.Getenv("NUM_THREADS"))
	cfg.NumWorkers, _ = strconv.Atoi(os.Getenv("NUM_WORKERS"))
	cfg.MaxDecodeSteps, _ = strconv.Atoi(os.Getenv("MAX_DECODE_STEPS"))

	if val := os.Getenv("TRANSCRIBE_API"); val != "" {
		cfg.TranscribeAPI = TranscribeAPI(val)
	}

	if val := os.Getenv("MODEL_SIZE"); val != "" {
		cfg.ModelSize = ModelSize(val)
	}

	if val := os.Getenv("OUTPUT_FORMAT"); val != "" {
		cfg.OutputFormat = OutputFormat(val)
	}

	if val := os.Getenv("RESAMPLE_MODE"); val != "" {
		cfg.ResampleMode = audio.ResampleMode(val)
	}

	if val := os.Getenv("CACHE_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = ttl
	}

	cfg.OutputOptions.WebVTT.FromEnv()
	cfg.OutputOptions.Text.FromEnv()

	return cfg, nil
}

// LoadEnvFile loads variables from the given dotenv file into the process
// environment without overriding the ones already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// FromFile applies the YAML config file at path on top of cfg. Keys match
// the ones used by ToMap.
func (cfg *TranscriberConfig) FromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.FromMap(m)

	return nil
}

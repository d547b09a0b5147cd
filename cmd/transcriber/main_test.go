package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattermost/file-transcriber/cmd/transcriber/config"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	for _, name := range []string{"OUTPUT_FORMAT", "NUM_WORKERS", "MODEL_SIZE", "CACHE_TTL", "OUTPUT_DIR"} {
		t.Setenv(name, "")
	}

	parse := func(t *testing.T, args ...string) (*cobra.Command, *flags) {
		t.Helper()
		cmd := &cobra.Command{}
		f := bindFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		return cmd, f
	}

	t.Run("defaults", func(t *testing.T) {
		cmd, f := parse(t)
		cfg, err := loadConfig(cmd, *f)
		require.NoError(t, err)
		require.Equal(t, config.ModelSizeDefault, cfg.ModelSize)
		require.Equal(t, config.OutputFormatDefault, cfg.OutputFormat)
		require.Equal(t, filepath.Join("models", "ggml-base.bin"), cfg.ModelFile)
	})

	t.Run("precedence", func(t *testing.T) {
		t.Setenv("OUTPUT_FORMAT", "text")
		t.Setenv("MODEL_SIZE", "tiny")
		t.Setenv("CACHE_TTL", "1h")

		cfgFile := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(cfgFile, []byte("output_format: vtt\nnum_workers: 3\n"), 0600))

		cmd, f := parse(t, "--config", cfgFile, "--format", "srt", "--cache-ttl", "2h")
		cfg, err := loadConfig(cmd, *f)
		require.NoError(t, err)
		require.Equal(t, config.OutputFormatSRT, cfg.OutputFormat)
		require.Equal(t, 3, cfg.NumWorkers)
		require.Equal(t, config.ModelSizeTiny, cfg.ModelSize)
		require.Equal(t, 2*time.Hour, cfg.CacheTTL)
	})

	t.Run("invalid flag value", func(t *testing.T) {
		cmd, f := parse(t, "--format", "mp3")
		_, err := loadConfig(cmd, *f)
		require.EqualError(t, err, "failed to validate config: OutputFormat value is not valid")
	})

	t.Run("missing config file", func(t *testing.T) {
		cmd, f := parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := loadConfig(cmd, *f)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSlogReplaceAttr(t *testing.T) {
	src := &slog.Source{File: "/go/src/transcriber/cmd/transcriber/main.go", Line: 10}
	a := slogReplaceAttr(nil, slog.Any(slog.SourceKey, src))
	require.Equal(t, "main.go", a.Value.Any().(*slog.Source).File)
	require.Equal(t, 10, a.Value.Any().(*slog.Source).Line)

	a = slogReplaceAttr(nil, slog.String("err", "failure"))
	require.Equal(t, "failure", a.Value.String())
}

func TestRootCmdUsage(t *testing.T) {
	cmd := newRootCmd()
	require.Contains(t, cmd.Long, "Supported inputs: .ogg, .opus, .wav")
}

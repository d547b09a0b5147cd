// Package batch runs transcriptions over a set of audio files using a pool of
// transcriber instances.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
	"github.com/mattermost/file-transcriber/cmd/transcriber/cache"
	"github.com/mattermost/file-transcriber/cmd/transcriber/config"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

// TranscriberFactory builds a new transcriber instance. It's called once per
// worker.
type TranscriberFactory func() (transcribe.Transcriber, error)

type FileResult struct {
	Path string
	// Output is the path of the published transcription file.
	Output        string
	Transcription transcribe.Transcription
	// Cached is set when the transcription was served from the cache.
	Cached bool
	Err    error
}

type fileJob struct {
	idx  int
	path string
	// output is the name of the file the transcription is published to,
	// unique within a run.
	output    string
	outputErr error
}

type Transcriber struct {
	cfg            config.TranscriberConfig
	loader         *audio.Loader
	newTranscriber TranscriberFactory
	cache          *cache.Cache
}

func NewTranscriber(cfg config.TranscriberConfig, loader *audio.Loader, factory TranscriberFactory) (*Transcriber, error) {
	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if loader == nil {
		return nil, fmt.Errorf("invalid nil loader")
	}
	if factory == nil {
		return nil, fmt.Errorf("invalid nil factory")
	}

	t := &Transcriber{
		cfg:            cfg,
		loader:         loader,
		newTranscriber: factory,
	}

	if cfg.CacheDir != "" {
		c, err := cache.New(cache.Config{
			Dir: cfg.CacheDir,
			TTL: cfg.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		t.cache = c
	}

	return t, nil
}

// Close releases the cache, if any.
func (t *Transcriber) Close() error {
	if t.cache != nil {
		return t.cache.Close()
	}
	return nil
}

// Run transcribes the files at paths and publishes one output file for each.
// Results are returned in input order. Per file failures are reported through
// FileResult.Err while the returned error is only set when the run could not
// start or was cancelled.
func (t *Transcriber) Run(ctx context.Context, paths []string) ([]FileResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}

	jobID := uuid.NewString()
	logger := slog.With(slog.String("jobID", jobID))

	if err := os.MkdirAll(t.cfg.OutputDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	numWorkers := min(t.cfg.NumWorkers, len(paths))
	transcribers := make([]transcribe.Transcriber, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		tr, err := t.newTranscriber()
		if err != nil {
			for _, tr := range transcribers {
				if err := tr.Destroy(); err != nil {
					logger.Error("failed to destroy transcriber", slog.String("err", err.Error()))
				}
			}
			return nil, fmt.Errorf("failed to create transcriber: %w", err)
		}
		transcribers = append(transcribers, tr)
	}

	logger.Info("starting batch",
		slog.Int("files", len(paths)),
		slog.Int("workers", numWorkers))
	start := time.Now()

	outputs, outputErrs := outputFilenames(paths, t.cfg.OutputFormat)
	jobsCh := make(chan fileJob, len(paths))
	for i, p := range paths {
		jobsCh <- fileJob{idx: i, path: p, output: outputs[i], outputErr: outputErrs[i]}
	}
	close(jobsCh)

	resultsCh := make(chan FileResult, len(paths))
	results := make([]FileResult, len(paths))
	var wg sync.WaitGroup
	for i, tr := range transcribers {
		wg.Add(1)
		go func(num int, tr transcribe.Transcriber) {
			defer wg.Done()
			t.handleTranscriptionRequests(ctx, logger, num, tr, jobsCh, resultsCh, results)
		}(i, tr)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var failed int
	for res := range resultsCh {
		if res.Err != nil {
			failed++
			logger.Error("failed to transcribe file",
				slog.String("path", res.Path),
				slog.String("err", res.Err.Error()))
		}
	}

	logger.Info("batch done",
		slog.Int("files", len(paths)),
		slog.Int("failed", failed),
		slog.Duration("dur", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return results, err
	}

	return results, nil
}

func (t *Transcriber) handleTranscriptionRequests(ctx context.Context, logger *slog.Logger, num int,
	tr transcribe.Transcriber, jobsCh <-chan fileJob, resultsCh chan<- FileResult, results []FileResult,
) {
	logger.Debug(fmt.Sprintf("handleTranscriptionRequests: starting transcriber #%d", num))

	defer func() {
		if err := tr.Destroy(); err != nil {
			logger.Error("handleTranscriptionRequests: failed to destroy transcriber",
				slog.String("err", err.Error()))
		}
		logger.Debug(fmt.Sprintf("handleTranscriptionRequests: closing transcriber #%d", num))
	}()

	for job := range jobsCh {
		var res FileResult
		select {
		case <-ctx.Done():
			res = FileResult{Path: job.path, Err: ctx.Err()}
		default:
			res = t.transcribeFile(ctx, logger, tr, job)
		}
		// Each index is written by exactly one worker.
		results[job.idx] = res
		resultsCh <- res
	}
}

func (t *Transcriber) transcribeFile(ctx context.Context, logger *slog.Logger, tr transcribe.Transcriber, job fileJob) FileResult {
	path := job.path
	res := FileResult{Path: path}
	start := time.Now()

	if job.outputErr != nil {
		res.Err = fmt.Errorf("failed to get output filename: %w", job.outputErr)
		return res
	}

	samples, err := t.loader.LoadFile(path)
	if err != nil {
		res.Err = err
		return res
	}

	var key []byte
	if t.cache != nil {
		key = cache.Key(t.modelID(), samples)
		cached, err := t.cache.Get(key)
		switch {
		case err == nil && cached.IsValid() == nil:
			logger.Debug("transcription found in cache", slog.String("path", path))
			res.Transcription = cached
			res.Cached = true
		case err == nil:
			logger.Warn("dropping invalid cache entry", slog.String("path", path))
			if err := t.cache.Delete(key); err != nil {
				logger.Warn("failed to delete cache entry", slog.String("err", err.Error()))
			}
		case !errors.Is(err, cache.ErrNotFound):
			logger.Warn("failed to read cache", slog.String("err", err.Error()))
		}
	}

	if !res.Cached {
		res.Transcription, err = tr.Transcribe(ctx, samples)
		if err != nil {
			res.Err = fmt.Errorf("failed to transcribe: %w", err)
			return res
		}
		if err := res.Transcription.IsValid(); err != nil {
			res.Err = fmt.Errorf("invalid transcription: %w", err)
			return res
		}
		if t.cache != nil {
			if err := t.cache.Set(key, res.Transcription); err != nil {
				logger.Warn("failed to write cache", slog.String("err", err.Error()))
			}
		}
	}

	res.Transcription.Source = filepath.Base(path)

	res.Output, err = t.publishTranscription(job.output, res.Transcription)
	if err != nil {
		res.Err = fmt.Errorf("failed to publish transcription: %w", err)
		return res
	}

	logger.Info("file transcribed",
		slog.String("path", path),
		slog.String("output", res.Output),
		slog.Int("segments", len(res.Transcription.Segments)),
		slog.Bool("cached", res.Cached),
		slog.Bool("truncated", res.Transcription.Truncated),
		slog.Duration("dur", time.Since(start)))

	return res
}

// modelID identifies the decoding setup a cached transcription was produced
// with.
func (t *Transcriber) modelID() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", t.cfg.ModelSize, filepath.Base(t.cfg.ModelFile),
		filepath.Base(t.cfg.MelFiltersFile), tokenizerID(t.cfg.TokenizerFile), t.cfg.MaxDecodeSteps)
}

func tokenizerID(path string) string {
	if path == "" {
		return "model"
	}
	return filepath.Base(path)
}

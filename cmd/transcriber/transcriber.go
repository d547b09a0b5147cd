package main

import (
	"fmt"
	"log/slog"

	"github.com/mattermost/file-transcriber/cmd/transcriber/apis/whisper.cpp"
	"github.com/mattermost/file-transcriber/cmd/transcriber/audio"
	"github.com/mattermost/file-transcriber/cmd/transcriber/audio/ogg"
	"github.com/mattermost/file-transcriber/cmd/transcriber/audio/wav"
	"github.com/mattermost/file-transcriber/cmd/transcriber/batch"
	"github.com/mattermost/file-transcriber/cmd/transcriber/config"
	"github.com/mattermost/file-transcriber/cmd/transcriber/decoder"
	"github.com/mattermost/file-transcriber/cmd/transcriber/mel"
	"github.com/mattermost/file-transcriber/cmd/transcriber/pipeline"
	"github.com/mattermost/file-transcriber/cmd/transcriber/tokenizer"
	"github.com/mattermost/file-transcriber/cmd/transcriber/transcribe"
)

func newLoader(cfg config.TranscriberConfig) *audio.Loader {
	loader := audio.NewLoader(cfg.ResampleMode)
	loader.Register(".wav", wav.Decoder{})
	loader.Register(".ogg", ogg.Decoder{})
	loader.Register(".opus", ogg.Decoder{})
	return loader
}

// newTranscriberFactory returns the factory used by the batch workers to
// build one transcriber each. Shared read-only state (filterbank and
// tokenizer) is loaded once.
func newTranscriberFactory(cfg config.TranscriberConfig) (batch.TranscriberFactory, error) {
	nMels := cfg.ModelSize.NumMels()
	fb, err := mel.LoadFilterbankFile(cfg.MelFiltersFile, nMels)
	if err != nil {
		return nil, fmt.Errorf("failed to load mel filters: %w", err)
	}

	var tk *tokenizer.Tokenizer
	if cfg.TokenizerFile != "" {
		tk, err = tokenizer.LoadFile(cfg.TokenizerFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}

	return func() (transcribe.Transcriber, error) {
		switch cfg.TranscribeAPI {
		case config.TranscribeAPIWhisperCPP:
			return newWhisperTranscriber(cfg, fb, tk)
		default:
			return nil, fmt.Errorf("transcribe API %q not implemented", cfg.TranscribeAPI)
		}
	}, nil
}

func newWhisperTranscriber(cfg config.TranscriberConfig, fb *mel.Filterbank, tk *tokenizer.Tokenizer) (transcribe.Transcriber, error) {
	wctx, err := whisper.NewContext(whisper.Config{
		ModelFile:  cfg.ModelFile,
		NumThreads: cfg.NumThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}

	p, err := newWhisperPipeline(cfg, wctx, fb, tk)
	if err != nil {
		if err := wctx.Destroy(); err != nil {
			slog.Error("failed to destroy whisper context", slog.String("err", err.Error()))
		}
		return nil, err
	}

	return p, nil
}

func newWhisperPipeline(cfg config.TranscriberConfig, wctx *whisper.Context, fb *mel.Filterbank, tk *tokenizer.Tokenizer) (*pipeline.Pipeline, error) {
	if n := wctx.NumMels(); n != fb.NMels {
		return nil, fmt.Errorf("model expects %d mel bands, filters have %d", n, fb.NMels)
	}

	var tok decoder.Tokenizer = wctx
	vocab := wctx.Vocabulary()
	if tk != nil {
		var err error
		vocab, err = decoder.LookupVocabulary(tk.TokenID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to look up vocabulary: %w", err)
		}
		tok = tk
		if n := wctx.NumVocab(); n != tk.VocabSize() {
			slog.Warn("tokenizer and model vocabulary sizes differ",
				slog.Int("tokenizer", tk.VocabSize()),
				slog.Int("model", n))
		}
	}

	return pipeline.New(pipeline.Config{
		Model:      wctx,
		Tokenizer:  tok,
		Vocabulary: vocab,
		Filterbank: fb,
		NumMels:    fb.NMels,
		ModelName:  wctx.ModelType(),
		DecodeOptions: decoder.Options{
			MaxSteps: cfg.MaxDecodeSteps,
		},
	})
}

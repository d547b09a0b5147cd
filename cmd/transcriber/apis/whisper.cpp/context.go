package whisper

// #cgo linux LDFLAGS: -l:libwhisper.a -lm -lstdc++
// #cgo darwin LDFLAGS: -lwhisper -lstdc++ -framework Accelerate
// #include <whisper.h>
// #include <stdlib.h>
import "C"

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/mattermost/file-transcriber/cmd/transcriber/decoder"
	"github.com/mattermost/file-transcriber/cmd/transcriber/mel"
)

type Config struct {
	// The path to the GGML model file to use.
	ModelFile string
	// The number of system threads to use to run the encoder and decoder.
	NumThreads int
}

func (c Config) IsValid() error {
	if c == (Config{}) {
		return fmt.Errorf("invalid empty config")
	}

	if c.ModelFile == "" {
		return fmt.Errorf("invalid ModelFile: should not be empty")
	}

	if _, err := os.Stat(c.ModelFile); err != nil {
		return fmt.Errorf("invalid ModelFile: failed to stat model file: %w", err)
	}

	if numCPU := runtime.NumCPU(); c.NumThreads == 0 || c.NumThreads > numCPU {
		return fmt.Errorf("invalid NumThreads: should be in the range [1, %d]", numCPU)
	}

	return nil
}

// Context wraps a whisper.cpp model. It implements decoder.Model and
// decoder.Tokenizer. A Context is not safe for concurrent use.
type Context struct {
	cfg     Config
	ctx     *C.struct_whisper_context
	cparams C.struct_whisper_context_params
	// encoded is incremented on every successful Encode call so that
	// features from a previous window can be told apart.
	encoded uint64
}

type features struct {
	owner *Context
	seq   uint64
}

func NewContext(cfg Config) (*Context, error) {
	var c Context

	if err := cfg.IsValid(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	c.cfg = cfg

	slog.Debug("creating model context", slog.Any("cfg", cfg))

	path := C.CString(cfg.ModelFile)
	defer C.free(unsafe.Pointer(path))

	c.cparams = C.whisper_context_default_params()
	c.ctx = C.whisper_init_from_file_with_params(path, c.cparams)
	if c.ctx == nil {
		return nil, fmt.Errorf("failed to load model file")
	}

	if beg, not := C.whisper_token_beg(c.ctx), C.whisper_token_not(c.ctx); beg != not+1 {
		slog.Warn("unexpected timestamp token layout",
			slog.Int("timestampBegin", int(beg)),
			slog.Int("noTimestamps", int(not)))
	}

	return &c, nil
}

func (c *Context) Destroy() error {
	if c.ctx == nil {
		return fmt.Errorf("context is not initialized")
	}
	C.whisper_free(c.ctx)
	c.ctx = nil
	return nil
}

// NumMels returns the number of mel bands the model expects.
func (c *Context) NumMels() int {
	return int(C.whisper_model_n_mels(c.ctx))
}

func (c *Context) NumVocab() int {
	return int(C.whisper_n_vocab(c.ctx))
}

// ModelType returns the human readable model size (e.g. "tiny").
func (c *Context) ModelType() string {
	return C.GoString(C.whisper_model_type_readable(c.ctx))
}

func (c *Context) Vocabulary() decoder.Vocabulary {
	return decoder.Vocabulary{
		StartOfTranscript: decoder.Token(C.whisper_token_sot(c.ctx)),
		Transcribe:        decoder.Token(C.whisper_token_transcribe(c.ctx)),
		EndOfText:         decoder.Token(C.whisper_token_eot(c.ctx)),
		NoTimestamps:      decoder.Token(C.whisper_token_not(c.ctx)),
	}
}

// Encode installs spec as the model input and runs the encoder. The
// returned features stay valid until the next call to Encode.
func (c *Context) Encode(ctx context.Context, spec *mel.Spectrogram) (decoder.Features, error) {
	if c.ctx == nil {
		return nil, fmt.Errorf("context is not initialized")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := spec.Shape()
	if nMels := c.NumMels(); spec.NMels != nMels || len(spec.Data) != spec.NMels*spec.NFrames || spec.NFrames == 0 {
		return nil, &mel.ShapeMismatchError{
			Expected: []int{1, nMels, mel.NFrames},
			Actual:   shape[:],
		}
	}

	ret := C.whisper_set_mel(c.ctx, (*C.float)(&spec.Data[0]), C.int(spec.NFrames), C.int(spec.NMels))
	if ret != 0 {
		return nil, fmt.Errorf("whisper_set_mel failed with code %d", ret)
	}

	ret = C.whisper_encode(c.ctx, 0, C.int(c.cfg.NumThreads))
	if ret != 0 {
		return nil, fmt.Errorf("whisper_encode failed with code %d", ret)
	}

	c.encoded++

	return features{owner: c, seq: c.encoded}, nil
}

// DecodeStep runs the decoder over the whole token history and returns
// the logits for the next token.
func (c *Context) DecodeStep(ctx context.Context, tokens []decoder.Token, f decoder.Features) ([]float32, error) {
	if c.ctx == nil {
		return nil, fmt.Errorf("context is not initialized")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if enc, ok := f.(features); !ok || enc.owner != c || enc.seq != c.encoded {
		return nil, fmt.Errorf("features were not produced by the latest Encode call")
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokens should not be empty")
	}

	ctokens := make([]C.whisper_token, len(tokens))
	for i, tok := range tokens {
		ctokens[i] = C.whisper_token(tok)
	}

	ret := C.whisper_decode(c.ctx, &ctokens[0], C.int(len(ctokens)), 0, C.int(c.cfg.NumThreads))
	if ret != 0 {
		return nil, fmt.Errorf("whisper_decode failed with code %d", ret)
	}

	nVocab := c.NumVocab()
	all := unsafe.Slice((*float32)(unsafe.Pointer(C.whisper_get_logits(c.ctx))), len(tokens)*nVocab)

	logits := make([]float32, nVocab)
	copy(logits, all[(len(tokens)-1)*nVocab:])

	return logits, nil
}

// Decode turns token ids into text using the model vocabulary. Special
// tokens are skipped.
func (c *Context) Decode(ids []decoder.Token) (string, error) {
	if c.ctx == nil {
		return "", fmt.Errorf("context is not initialized")
	}

	eot := decoder.Token(C.whisper_token_eot(c.ctx))
	nVocab := decoder.Token(c.NumVocab())

	var sb strings.Builder
	for _, id := range ids {
		if id >= nVocab {
			return "", fmt.Errorf("unknown token id %d", id)
		}
		if id >= eot {
			continue
		}
		sb.WriteString(C.GoString(C.whisper_token_to_str(c.ctx, C.whisper_token(id))))
	}

	return strings.ToValidUTF8(sb.String(), string(utf8.RuneError)), nil
}

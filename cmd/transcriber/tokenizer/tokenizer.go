// Package tokenizer decodes token ids using a HuggingFace tokenizer.json
// byte-level BPE vocabulary.
package tokenizer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

type token struct {
	text    string
	added   bool
	special bool
}

type Tokenizer struct {
	tokens map[uint32]token
	ids    map[string]uint32
	bytes  map[rune]byte
}

func Load(r io.Reader) (*Tokenizer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid tokenizer: malformed JSON")
	}

	vocab := gjson.GetBytes(data, "model.vocab")
	if !vocab.IsObject() {
		return nil, fmt.Errorf("invalid tokenizer: missing model.vocab")
	}

	if typ := gjson.GetBytes(data, "decoder.type").String(); typ != "" && typ != "ByteLevel" {
		slog.Warn("unexpected tokenizer decoder type, decoding as byte-level", slog.String("type", typ))
	}

	t := &Tokenizer{
		tokens: map[uint32]token{},
		ids:    map[string]uint32{},
		bytes:  byteDecoder(),
	}

	vocab.ForEach(func(key, value gjson.Result) bool {
		id := uint32(value.Uint())
		t.tokens[id] = token{text: key.String()}
		t.ids[key.String()] = id
		return true
	})

	gjson.GetBytes(data, "added_tokens").ForEach(func(_, value gjson.Result) bool {
		id := uint32(value.Get("id").Uint())
		content := value.Get("content").String()
		t.tokens[id] = token{
			text:    content,
			added:   true,
			special: value.Get("special").Bool(),
		}
		t.ids[content] = id
		return true
	})

	if len(t.tokens) == 0 {
		return nil, fmt.Errorf("invalid tokenizer: empty vocabulary")
	}

	return t, nil
}

func LoadFile(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokenizer file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

func (t *Tokenizer) VocabSize() int {
	return len(t.tokens)
}

// TokenID returns the id of the token with the given content.
func (t *Tokenizer) TokenID(content string) (uint32, bool) {
	id, ok := t.ids[content]
	return id, ok
}

// Decode turns ids into text. Special tokens are skipped.
func (t *Tokenizer) Decode(ids []uint32) (string, error) {
	var buf []byte
	for _, id := range ids {
		tok, ok := t.tokens[id]
		if !ok {
			return "", fmt.Errorf("unknown token id %d", id)
		}

		if tok.special {
			continue
		}

		if tok.added {
			buf = append(buf, tok.text...)
			continue
		}

		for _, r := range tok.text {
			if b, ok := t.bytes[r]; ok {
				buf = append(buf, b)
			} else {
				buf = utf8.AppendRune(buf, r)
			}
		}
	}

	return strings.ToValidUTF8(string(buf), string(utf8.RuneError)), nil
}

// byteDecoder returns the inverse of the GPT-2 byte to unicode mapping:
// printable bytes map to themselves, the rest are shifted above 255.
func byteDecoder() map[rune]byte {
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}

	m := make(map[rune]byte, 256)
	n := 0
	for b := 0; b < 256; b++ {
		if printable(b) {
			m[rune(b)] = byte(b)
		} else {
			m[rune(256+n)] = byte(b)
			n++
		}
	}
	return m
}

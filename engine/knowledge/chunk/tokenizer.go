package chunk

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the tokenizer used by current OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// Tokenizer converts text to token ids and back. Decoding the tokens of a
// text must reproduce it byte for byte.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	encodersMu sync.Mutex
	encoders   = map[string]*tiktoken.Tiktoken{}
)

// NewTiktokenTokenizer loads (once per process) the named BPE encoding.
func NewTiktokenTokenizer(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if enc, ok := encoders[encoding]; ok {
		return &tiktokenTokenizer{enc: enc}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("chunk: load encoding %q: %w", encoding, err)
	}
	encoders[encoding] = enc
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

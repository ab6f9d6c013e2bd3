package endpoint

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	defaultCharsPerToken = 4

	// FallbackEncoding counts tokens for models tiktoken has no mapping for.
	FallbackEncoding = "o200k_base"

	// legacyEncoding is tried when FallbackEncoding is not bundled.
	legacyEncoding = "cl100k_base"

	// messageOverhead approximates role and separator tokens per message.
	messageOverhead = 4

	// replyPrimer approximates the tokens that prime the assistant reply.
	replyPrimer = 3
)

func init() {
	// Encodings ship with the binary; nothing is fetched at run time.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// encoder serializes access to a shared BPE.
type encoder struct {
	mu  sync.Mutex
	bpe *tiktoken.Tiktoken
}

func (e *encoder) count(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bpe.Encode(text, nil, nil))
}

var (
	encodersMu sync.Mutex
	encoders   = make(map[string]*encoder)
)

// encoderFor returns the cached encoder for model, or nil when no encoding
// can be loaded.
func encoderFor(model string) *encoder {
	encodersMu.Lock()
	defer encodersMu.Unlock()

	if e, ok := encoders[model]; ok {
		return e
	}

	var e *encoder
	if bpe, err := tiktoken.EncodingForModel(model); err == nil {
		e = &encoder{bpe: bpe}
	} else {
		for _, name := range []string{FallbackEncoding, legacyEncoding} {
			if bpe, err := tiktoken.GetEncoding(name); err == nil {
				e = &encoder{bpe: bpe}
				break
			}
		}
	}
	encoders[model] = e
	return e
}

// TokenEstimator counts prompt tokens with a tiktoken encoding, or with a
// characters-per-token ratio when no encoding is available.
type TokenEstimator struct {
	charsPerToken int
	enc           *encoder
}

// NewTokenEstimator creates a ratio-only estimator. charsPerToken <= 0 selects 4.
func NewTokenEstimator(charsPerToken int) TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	return TokenEstimator{charsPerToken: charsPerToken}
}

// NewModelEstimator creates an estimator using model's tiktoken encoding,
// falling back to FallbackEncoding and then to the 4 chars/token ratio.
// Encodings are loaded once per model name.
func NewModelEstimator(model string) TokenEstimator {
	e := NewTokenEstimator(0)
	e.enc = encoderFor(model)
	return e
}

// Exact reports whether counts come from a tokenizer.
func (e TokenEstimator) Exact() bool {
	return e.enc != nil
}

// EstimateTokens returns the estimated prompt tokens of p.
func (e TokenEstimator) EstimateTokens(p Payload) int {
	if len(p.Messages) == 0 {
		return 0
	}

	total := replyPrimer
	for _, m := range p.Messages {
		total += messageOverhead + e.countText(m.Content)
	}
	return total
}

func (e TokenEstimator) countText(text string) int {
	if e.enc != nil {
		return e.enc.count(text)
	}

	cpt := e.charsPerToken
	if cpt <= 0 {
		cpt = defaultCharsPerToken
	}
	// ceil(runes/cpt) so short non-empty messages still count.
	return (utf8.RuneCountInString(text) + cpt - 1) / cpt
}

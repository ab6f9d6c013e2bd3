package endpoint

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// New creates the adapter selected by cfg.Provider.
// The returned closer is a no-op for adapters without resources.
func New(ctx context.Context, cfg ModelConfig) (Endpoint, io.Closer, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		ep, err := NewOpenAI(cfg)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return ep, nopCloser{}, nil
	case ProviderAnthropic:
		ep, err := NewAnthropic(cfg)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return ep, nopCloser{}, nil
	case ProviderGoogle:
		ep, err := NewGoogle(ctx, cfg)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return ep, ep, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

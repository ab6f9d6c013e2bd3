package ratelimit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrUnknownModel is returned by Lookup when no limits exist for a model.
var ErrUnknownModel = errors.New("unknown model")

// Limit is the published quota of one model.
type Limit struct {
	RequestsPerMinute int `toml:"rpm"`
	TokensPerMinute   int `toml:"tpm"`
}

// Limits maps provider -> model -> quota.
//
// The on-disk form is TOML with one table per model:
//
//	[openai."gpt-4o-mini"]
//	rpm = 500
//	tpm = 200000
type Limits map[string]map[string]Limit

// LoadLimits reads a limits catalogue from path.
func LoadLimits(path string) (Limits, error) {
	var limits Limits
	md, err := toml.DecodeFile(path, &limits)
	if err != nil {
		return nil, fmt.Errorf("decode limits %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode limits %s: unknown keys %v", path, undecoded)
	}
	return limits, nil
}

// ParseLimits decodes a limits catalogue from TOML text.
func ParseLimits(data string) (Limits, error) {
	var limits Limits
	if _, err := toml.Decode(data, &limits); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	return limits, nil
}

// Lookup returns the quota of provider/model.
func (l Limits) Lookup(provider, model string) (Limit, error) {
	models, ok := l[provider]
	if !ok {
		return Limit{}, fmt.Errorf("%w: provider %q", ErrUnknownModel, provider)
	}
	limit, ok := models[model]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %s/%s", ErrUnknownModel, provider, model)
	}
	return limit, nil
}

// Models lists the models known for provider, sorted.
func (l Limits) Models(provider string) []string {
	names := make([]string, 0, len(l[provider]))
	for name := range l[provider] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

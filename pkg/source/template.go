package source

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Sternrassler/narrative-blueprint/pkg/endpoint"
)

// NarrativeVar is the template variable replaced by the narrative text.
const NarrativeVar = "narrative"

// Template holds the system prompt and the per-narrative message prompt.
//
// File format:
//
//	[system]
//	prompt = "You are a narrative analyst..."
//
//	[message]
//	prompt = "Analyse the following narrative: $narrative"
//
// The message prompt uses $name or ${name} placeholders; $$ is a literal $.
type Template struct {
	System  string
	Message string
}

type templateFile struct {
	System struct {
		Prompt string `toml:"prompt"`
	} `toml:"system"`
	Message struct {
		Prompt string `toml:"prompt"`
	} `toml:"message"`
}

// LoadTemplate reads a prompt template from a TOML file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	tmpl, err := ParseTemplate(string(data))
	if err != nil {
		return nil, fmt.Errorf("prompt template %s: %w", path, err)
	}
	return tmpl, nil
}

// ParseTemplate decodes a prompt template from TOML text.
func ParseTemplate(data string) (*Template, error) {
	var f templateFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(f.Message.Prompt) == "" {
		return nil, fmt.Errorf("[message] prompt is required")
	}
	return &Template{System: f.System.Prompt, Message: f.Message.Prompt}, nil
}

// Render substitutes vars into the message prompt.
// Placeholders without a value are an error.
func (t *Template) Render(vars map[string]string) (string, error) {
	var unknown []string
	out := os.Expand(t.Message, func(name string) string {
		if name == "$" {
			return "$"
		}
		v, ok := vars[name]
		if !ok {
			unknown = append(unknown, name)
		}
		return v
	})
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return "", fmt.Errorf("render prompt: no value for %v", unknown)
	}
	return out, nil
}

// Payload builds the system + user messages for one narrative.
func (t *Template) Payload(narrative string) (endpoint.Payload, error) {
	msg, err := t.Render(map[string]string{NarrativeVar: narrative})
	if err != nil {
		return endpoint.Payload{}, err
	}

	var messages []endpoint.Message
	if t.System != "" {
		messages = append(messages, endpoint.Message{Role: endpoint.RoleSystem, Content: t.System})
	}
	messages = append(messages, endpoint.Message{Role: endpoint.RoleUser, Content: msg})
	return endpoint.Payload{Messages: messages}, nil
}

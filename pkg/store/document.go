package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates no document exists for the requested uuid.
	ErrNotFound = errors.New("document not found")

	// ErrMalformedContent indicates the response content is not a JSON object.
	ErrMalformedContent = errors.New("malformed response content")
)

// IDField is the document field holding the task uuid.
const IDField = "uuid"

// Document is one stored result.
type Document map[string]any

// ID returns the uuid field.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// NewDocument decodes content as a JSON object and sets its uuid field.
// Markdown code fences around the object are tolerated since chat models
// often add them even in JSON mode.
func NewDocument(taskID, content string) (Document, error) {
	body := stripCodeFence(content)

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: content is not a JSON object", ErrMalformedContent)
	}

	doc[IDField] = taskID
	return doc, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

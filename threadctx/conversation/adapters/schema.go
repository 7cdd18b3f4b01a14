package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// ErrInvalidDocument is returned when a stored thread document does not
// match the thread schema.
var ErrInvalidDocument = errors.New("invalid thread document")

const threadDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "messages", "summary", "last_updated"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "summary": {"type": "string"},
    "last_updated": {"type": "string"},
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "role", "content", "created_at"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "role": {"enum": ["system", "user", "assistant"]},
          "content": {"type": "string"},
          "created_at": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func threadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(threadDocumentSchema))
	})
	return schema, schemaErr
}

// ValidateThreadDocument checks an encoded thread against the thread schema.
func ValidateThreadDocument(doc []byte) error {
	s, err := threadSchema()
	if err != nil {
		return fmt.Errorf("compile thread schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
	}
	return nil
}

func encodeThread(state ports.ThreadState) ([]byte, error) {
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thread %s: %w", state.ID, err)
	}
	return data, nil
}

// decodeThread validates and decodes a stored document.
func decodeThread(data []byte) (ports.ThreadState, error) {
	if err := ValidateThreadDocument(data); err != nil {
		return ports.ThreadState{}, err
	}
	var state ports.ThreadState
	if err := json.Unmarshal(data, &state); err != nil {
		return ports.ThreadState{}, fmt.Errorf("failed to unmarshal thread: %w", err)
	}
	return state.Clone(), nil
}

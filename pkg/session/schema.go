package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const messageSchema = `{
  "type": "object",
  "required": ["role", "content"],
  "properties": {
    "messageid": { "type": "string" },
    "content": { "type": "string" },
    "role": { "type": "string", "enum": ["user", "assistant"] },
    "timestamp": { "type": "number" }
  }
}`

// DraftSchema validates the body of a create request.
var DraftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["createdAt", "messages"],
  "properties": {
    "id": { "type": "string" },
    "sessionName": { "type": "string" },
    "createdAt": { "type": "number", "exclusiveMinimum": 0 },
    "lastUpdated": { "type": "number" },
    "messages": { "type": "array", "minItems": 1, "items": ` + messageSchema + ` }
  }
}`

// SessionSchema validates the body of a save request.
var SessionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messages"],
  "anyOf": [
    { "required": ["filePath"], "properties": { "filePath": { "minLength": 1 } } },
    { "required": ["sessionName"], "properties": { "sessionName": { "minLength": 1 } } }
  ],
  "properties": {
    "id": { "type": "string" },
    "sessionName": { "type": "string" },
    "filePath": { "type": "string" },
    "createdAt": { "type": "number" },
    "lastUpdated": { "type": "number" },
    "messages": { "type": "array", "minItems": 1, "items": ` + messageSchema + ` }
  }
}`

var (
	draftSchemaLoader   = gojsonschema.NewStringLoader(DraftSchema)
	sessionSchemaLoader = gojsonschema.NewStringLoader(SessionSchema)
)

// DecodeDraft validates and decodes a create request body.
func DecodeDraft(data []byte) (Draft, error) {
	var draft Draft
	if err := validateDocument(draftSchemaLoader, data); err != nil {
		return draft, err
	}
	if err := json.Unmarshal(data, &draft); err != nil {
		return draft, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return draft, nil
}

// DecodeSession validates and decodes a full session body.
func DecodeSession(data []byte) (*Session, error) {
	if err := validateDocument(sessionSchemaLoader, data); err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &s, nil
}

func validateDocument(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

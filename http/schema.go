package http

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	relayer "github.com/x402-foundation/x402/relayer"
)

const quoteRequestSchema = `{
  "type": "object",
  "required": ["fromAddress", "toAddress", "amount", "coin"],
  "properties": {
    "fromAddress": {"type": "string", "minLength": 32, "maxLength": 44},
    "toAddress": {"type": "string", "minLength": 32, "maxLength": 44},
    "amount": {"type": "string", "pattern": "^[0-9]{1,20}$"},
    "coin": {"type": "string", "minLength": 1}
  }
}`

const submitRequestSchema = `{
  "type": "object",
  "required": ["quoteId", "fromAddress", "toAddress", "amount", "coin", "signature"],
  "properties": {
    "quoteId": {"type": "string", "minLength": 1},
    "fromAddress": {"type": "string", "minLength": 32, "maxLength": 44},
    "toAddress": {"type": "string", "minLength": 32, "maxLength": 44},
    "amount": {"type": "string", "pattern": "^[0-9]{1,20}$"},
    "coin": {"type": "string", "minLength": 1},
    "fee": {"type": "string", "pattern": "^[0-9]{1,20}$"},
    "signature": {
      "type": "object",
      "required": ["bytes"],
      "properties": {
        "bytes": {"type": "string", "minLength": 1},
        "publicKey": {"type": "string"}
      }
    }
  }
}`

var (
	quoteSchema  = mustSchema(quoteRequestSchema)
	submitSchema = mustSchema(submitRequestSchema)
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema and returns a validation error listing every violation
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return relayer.ValidationError("request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return relayer.NewRelayError(relayer.ErrCodeValidation, "request body failed validation", map[string]interface{}{
		"errors": violations,
	})
}

package config

import (
	_ "embed"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/telemetryhub/errors"
)

//go:embed schema.json
var schemaJSON string

// validateSchema runs the embedded JSON schema over a raw document
// before it is decoded into Config, so type mistakes surface with
// field paths instead of unmarshal errors.
func validateSchema(document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return errors.WrapInvalid(err, "config", "validateSchema", "run schema")
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(desc.String())
	}
	return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateSchema", sb.String())
}

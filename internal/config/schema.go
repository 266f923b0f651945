package config

import (
	"encoding/json"
	"fmt"

	pkgconfig "github.com/goran-ethernal/EntityIndexor/pkg/config"
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "json",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	schema := r.Reflect(&pkgconfig.Config{})
	schema.Title = "EntityIndexor configuration"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode config schema: %w", err)
	}

	return data, nil
}

package relay

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://agent-wallet.schemas.local/relay/"

// responseSchemas holds the compiled result schema for each RPC method.
type responseSchemas struct {
	capabilities *jsonschema.Schema
	grant        *jsonschema.Schema
	settlement   *jsonschema.Schema
}

var schemas = mustCompileSchemas()

func mustCompileSchemas() *responseSchemas {
	s, err := compileSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

func compileSchemas() (*responseSchemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	names := []string{"capabilities", "grant", "settlement"}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name+".schema.json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("load %s schema: %w", name, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaBaseURL + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		compiled[name] = s
	}

	return &responseSchemas{
		capabilities: compiled["capabilities"],
		grant:        compiled["grant"],
		settlement:   compiled["settlement"],
	}, nil
}

// validateResult checks raw JSON against schema before any typed decoding.
func validateResult(method string, schema *jsonschema.Schema, raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ResponseError{Method: method, Reason: "malformed JSON", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return &ResponseError{Method: method, Reason: "schema mismatch", Err: err}
	}
	return nil
}

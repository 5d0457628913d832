package activities

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateArguments checks decoded tool arguments against the tool's JSON
// schema. The schema arrives as a decoded map from the tool descriptor; it is
// round-tripped through the jsonschema compiler so draft detection and $ref
// resolution behave as they would for a schema document read from disk.
func validateArguments(schema map[string]any, args map[string]any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-arguments.json", doc); err != nil {
		return fmt.Errorf("register schema: %w", err)
	}
	compiled, err := compiler.Compile("tool-arguments.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip the arguments too so numeric types match JSON decoding.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return err
	}
	return nil
}

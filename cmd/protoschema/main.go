// Command protoschema writes the JSON schema for the client wire protocol so
// client teams can validate their encoders against it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"emberhold/server/internal/net/proto"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}

	clientSchema := reflector.Reflect(new(proto.ClientMessage))
	clientSchema.Title = "Client Message"
	clientSchema.Description = "Inbound websocket message envelope."

	stateSchema := reflector.Reflect(new(proto.StateFrameV1))
	stateSchema.Title = "State Frame"
	stateSchema.Description = "Periodic scene snapshot pushed to subscribers."

	joinSchema := reflector.Reflect(new(proto.JoinResponseV1))
	joinSchema.Title = "Join Response"
	joinSchema.Description = "HTTP join handshake payload."

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Emberhold Wire Protocol",
		Description: "Envelopes exchanged between clients and the scene server.",
		OneOf: []*jsonschema.Schema{
			clientSchema,
			stateSchema,
			joinSchema,
		},
	}
	return root
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}

// Command schemagen regenerates the wire-message JSON Schemas under schemas/
// from the protocol structs. The generated files are checked in; run this
// after changing internal/protocol.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"strider.run/internal/protocol"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "./schemas", "output directory for the JSON schemas")
	flag.Parse()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("schemagen: create output dir: %v", err)
	}

	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: false,
		DoNotReference:             true,
	}

	targets := []struct {
		file  string
		title string
		typ   reflect.Type
	}{
		{"hello.schema.json", "HELLO", reflect.TypeOf(protocol.HelloMsg{})},
		{"welcome.schema.json", "WELCOME", reflect.TypeOf(protocol.WelcomeMsg{})},
		{"intent.schema.json", "INTENT", reflect.TypeOf(protocol.IntentMsg{})},
		{"obs.schema.json", "OBS", reflect.TypeOf(protocol.ObsMsg{})},
		{"pose.schema.json", "POSE", reflect.TypeOf(protocol.PoseMsg{})},
		{"error.schema.json", "ERROR", reflect.TypeOf(protocol.ErrorMsg{})},
	}

	for _, tgt := range targets {
		schema := reflector.ReflectFromType(tgt.typ)
		if schema == nil {
			log.Fatalf("schemagen: reflect %s failed", tgt.title)
		}
		schema.Title = tgt.title
		schema.AdditionalProperties = &jsonschema.Schema{}

		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			log.Fatalf("schemagen: marshal %s: %v", tgt.file, err)
		}
		data = append(data, '\n')

		path := filepath.Join(outDir, tgt.file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Fatalf("schemagen: write %s: %v", path, err)
		}
		log.Printf("wrote %s", path)
	}
}

// Command gen-schema regenerates the embedded suite file schema. Run it
// from the repository root after changing the doc types in
// internal/suite/export.go:
//
//	go run ./scripts/gen-schema
package main

import (
	"fmt"
	"os"

	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

const target = "internal/suite/suite.schema.json"

func main() {
	data, err := suite.GenerateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", target, len(data))
}

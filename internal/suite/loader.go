package suite

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// suite.schema.json is generated by scripts/gen-schema.go; regenerate it
// after changing the YAML surface.
//
//go:embed suite.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parsing embedded suite schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("suite.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("loading embedded suite schema: %w", err)
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("suite.schema.json")
	})
	return schemaCompiled, schemaErr
}

// Load reads every suite file under dir, recursively. Files that fail to
// parse or validate are logged and skipped so one bad file cannot take
// down a run. A missing directory yields no suites. Skipped suites are
// returned too; the harness reports them rather than silently dropping
// their tests.
func Load(dir string) ([]*Suite, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	var suites []*Suite
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSuiteFile(path) {
			return nil
		}
		s, err := LoadFile(path)
		if err != nil {
			logging.Warn("Suite", "Failed to load %s: %v", path, err)
			return nil
		}
		if s != nil {
			suites = append(suites, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return suites, nil
}

func isSuiteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads a single suite file. An empty file returns (nil, nil).
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if err := validateStructure(data); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if errs := s.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	s.Path = path
	s.Stem = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &s, nil
}

// validateStructure checks the raw document against the generated JSON
// schema before any typed decoding happens. This catches shape mistakes
// (a string where a list belongs, a misspelled expectation key) with
// positioned messages.
func validateStructure(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("converting YAML: %w", err)
	}
	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return err
	}
	return sch.Validate(doc)
}

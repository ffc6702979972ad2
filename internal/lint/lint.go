// Package lint finds duplicated tests across a suite directory: repeated
// test names within one file, and tests whose content is identical across
// files once naming is stripped. It also surfaces the loader's validation
// findings so a lint run covers everything a suite author can get wrong.
package lint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

// KeepStrategy selects the surviving occurrence of a duplicate group.
type KeepStrategy string

const (
	KeepFirst         KeepStrategy = "first"
	KeepLast          KeepStrategy = "last"
	KeepLongestName   KeepStrategy = "longest-name"
	KeepMostDescribed KeepStrategy = "most-described"
)

// ParseStrategy validates a strategy name from the command line.
func ParseStrategy(s string) (KeepStrategy, error) {
	switch KeepStrategy(s) {
	case KeepFirst, KeepLast, KeepLongestName, KeepMostDescribed:
		return KeepStrategy(s), nil
	}
	return "", fmt.Errorf("unknown keep strategy %q (first, last, longest-name, most-described)", s)
}

// Occurrence locates one test in one file.
type Occurrence struct {
	File        string `json:"file"`
	Test        string `json:"test"`
	Index       int    `json:"index"`
	Description string `json:"description,omitempty"`
}

// DuplicateGroup is a set of content-identical tests. Keep indexes the
// occurrence the strategy chose to survive.
type DuplicateGroup struct {
	Fingerprint string       `json:"fingerprint"`
	Occurrences []Occurrence `json:"occurrences"`
	Keep        int          `json:"keep"`
}

// Finding is a single lint message tied to a file.
type Finding struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Report is the outcome of one lint run.
type Report struct {
	NameDuplicates []Finding        `json:"name_duplicates,omitempty"`
	ContentGroups  []DuplicateGroup `json:"content_groups,omitempty"`
	Validation     []Finding        `json:"validation,omitempty"`
}

// Clean reports whether nothing was flagged.
func (r *Report) Clean() bool {
	return len(r.NameDuplicates) == 0 && len(r.ContentGroups) == 0 && len(r.Validation) == 0
}

// Removals returns, per file, the test indices the fix should delete,
// sorted ascending.
func (r *Report) Removals() map[string][]int {
	out := make(map[string][]int)
	for _, g := range r.ContentGroups {
		for i, occ := range g.Occurrences {
			if i == g.Keep {
				continue
			}
			out[occ.File] = append(out[occ.File], occ.Index)
		}
	}
	for _, indices := range out {
		sort.Ints(indices)
	}
	return out
}

// fileScan is the raw view of one suite file used for fingerprinting.
type fileScan struct {
	path  string
	tests []map[string]any
	errs  []error
}

// Run lints every suite file under dir.
func Run(dir string, strategy KeepStrategy) (*Report, error) {
	paths, err := suiteFiles(dir)
	if err != nil {
		return nil, err
	}

	scans := make([]fileScan, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			scan, err := scanFile(path)
			if err != nil {
				return err
			}
			scans[i] = scan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	for _, scan := range scans {
		for _, e := range scan.errs {
			report.Validation = append(report.Validation, Finding{File: scan.path, Message: e.Error()})
		}
		report.NameDuplicates = append(report.NameDuplicates, nameDuplicates(scan)...)
	}
	report.ContentGroups = contentGroups(scans, strategy)
	return report, nil
}

func suiteFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading suite directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// scanFile reads a suite twice: raw for fingerprinting, and through the
// loader for its three-phase validation findings.
func scanFile(path string) (fileScan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileScan{}, err
	}

	scan := fileScan{path: path}
	var raw struct {
		Name  string           `yaml:"name"`
		Tests []map[string]any `yaml:"tests"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		scan.errs = append(scan.errs, fmt.Errorf("not parseable as a suite: %v", err))
		return scan, nil
	}
	scan.tests = raw.Tests

	if _, err := suite.LoadFile(path); err != nil {
		scan.errs = append(scan.errs, err)
	}
	return scan, nil
}

func nameDuplicates(scan fileScan) []Finding {
	seen := make(map[string]int)
	var findings []Finding
	for i, test := range scan.tests {
		name, _ := test["name"].(string)
		if name == "" {
			continue
		}
		if first, dup := seen[name]; dup {
			findings = append(findings, Finding{
				File:    scan.path,
				Message: fmt.Sprintf("test name '%s' duplicated (entries %d and %d)", name, first+1, i+1),
			})
			continue
		}
		seen[name] = i
	}
	return findings
}

// contentGroups fingerprints every test with its name and description
// stripped and groups identical content across files. Groups of one are
// not duplicates.
func contentGroups(scans []fileScan, strategy KeepStrategy) []DuplicateGroup {
	byPrint := make(map[string][]Occurrence)
	var order []string
	for _, scan := range scans {
		for i, test := range scan.tests {
			fp, err := fingerprint(test)
			if err != nil {
				continue
			}
			if len(byPrint[fp]) == 0 {
				order = append(order, fp)
			}
			name, _ := test["name"].(string)
			desc, _ := test["description"].(string)
			byPrint[fp] = append(byPrint[fp], Occurrence{
				File:        scan.path,
				Test:        name,
				Index:       i,
				Description: desc,
			})
		}
	}

	var groups []DuplicateGroup
	for _, fp := range order {
		occs := byPrint[fp]
		if len(occs) < 2 {
			continue
		}
		groups = append(groups, DuplicateGroup{
			Fingerprint: fp,
			Occurrences: occs,
			Keep:        chooseKeep(occs, strategy),
		})
	}
	return groups
}

// fingerprint hashes the canonical JSON of a test after dropping the keys
// that only name it. json.Marshal sorts map keys, so equal content hashes
// equal regardless of YAML key order.
func fingerprint(test map[string]any) (string, error) {
	stripped := make(map[string]any, len(test))
	for k, v := range test {
		if k == "name" || k == "description" {
			continue
		}
		stripped[k] = v
	}
	data, err := json.Marshal(stripped)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

func chooseKeep(occs []Occurrence, strategy KeepStrategy) int {
	switch strategy {
	case KeepLast:
		return len(occs) - 1
	case KeepLongestName:
		best := 0
		for i, occ := range occs {
			if len(occ.Test) > len(occs[best].Test) {
				best = i
			}
		}
		return best
	case KeepMostDescribed:
		best := 0
		for i, occ := range occs {
			if len(strings.TrimSpace(occ.Description)) > len(strings.TrimSpace(occs[best].Description)) {
				best = i
			}
		}
		return best
	default:
		return 0
	}
}

package test

import (
	"embed"
	"io/fs"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed cases
var casesFS embed.FS

type TestCase struct {
	// Description is a simple description for the test case.
	Description string
	// Schema is the GraphQL schema the document manager is opened with.
	Schema string
	// Operations is a list of all operations to run in this test case.
	Operations []Operation
}

// Operation is a single step of a test case.
//
// Documents are named by Ref. Field values are plain YAML values except for
// maps with a "$class" key, which create new embedded or referenced documents,
// and maps with a "$ref" key, which refer to a named document.
type Operation struct {
	// Action is one of new, set, unset, removeElements, persist, merge, remove,
	// detach, flush, clear, find and expect.
	Action string
	// Ref names the document the action applies to.
	Ref string
	// Class is the class of new documents and found documents.
	Class string
	// Fields are assigned by new and set.
	Fields map[string]any
	// Field and Keys select the elements removed by removeElements.
	Field string
	Keys  []string
	// Collection is the store collection queried by expect.
	Collection string
	// Query is a criteria document used by expect. It is rendered as a template
	// where {{ id "name" }} expands to the identifier of a named document.
	Query string
	// Missing inverts expect so that no document may match.
	Missing bool
	// Error is a substring of the error the action must fail with.
	Error string
}

// TestCasePaths returns a list of all test case file paths.
func TestCasePaths() (paths []string, _ error) {
	return paths, fs.WalkDir(casesFS, "cases", func(path string, d fs.DirEntry, err error) error {
		if filepath.Ext(path) == ".yaml" {
			paths = append(paths, path)
		}
		return err
	})
}

// LoadTestCase loads and parses a test case file.
func LoadTestCase(path string) (*TestCase, error) {
	data, err := fs.ReadFile(casesFS, path)
	if err != nil {
		return nil, err
	}
	var testCase TestCase
	if err := yaml.Unmarshal(data, &testCase); err != nil {
		return nil, err
	}
	return &testCase, nil
}

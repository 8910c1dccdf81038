// Package hydrated manages the hydrated case object: the consolidated,
// schema-validated document that rendering consumes. The engine treats its
// contents as opaque JSON; schema ownership stays with the extractor and
// renderer collaborators.
package hydrated

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
)

// FileName is the hydrated object file name inside a case's output directory.
const FileName = "hydrated.json"

// Store reads, validates, and atomically writes hydrated objects.
type Store struct {
	outputRoot string
	schema     *jsonschema.Schema
}

// NewStore creates a hydrated object store. schemaPath is optional; when
// empty, only syntactic JSON validation is performed.
func NewStore(outputRoot, schemaPath string) (*Store, error) {
	s := &Store{outputRoot: outputRoot}

	if schemaPath != "" {
		compiler := jsonschema.NewCompiler()
		schema, err := compiler.Compile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", schemaPath, err)
		}
		s.schema = schema
	}
	return s, nil
}

// Path returns the hydrated object path for a case.
func (s *Store) Path(caseID string) string {
	return filepath.Join(s.outputRoot, caseID, FileName)
}

// Exists reports whether the case has a hydrated object on disk.
func (s *Store) Exists(caseID string) bool {
	_, err := os.Stat(s.Path(caseID))
	return err == nil
}

// Read returns the raw hydrated object bytes.
func (s *Store) Read(caseID string) ([]byte, error) {
	raw, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, slerrors.NotFound("hydrated object", caseID)
		}
		return nil, slerrors.Io("read hydrated object", err)
	}
	return raw, nil
}

// Validate checks that raw is well-formed JSON and, when a schema is
// configured, that it conforms. Violations come back as Validation errors
// with the failure detail attached.
func (s *Store) Validate(raw []byte) error {
	var doc interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return slerrors.SchemaInvalid(fmt.Errorf("not valid JSON: %w", err))
	}

	if s.schema != nil {
		if err := s.schema.Validate(doc); err != nil {
			return slerrors.SchemaInvalid(err).WithDetails("violation", err.Error())
		}
	}
	return nil
}

// Write validates raw and replaces the case's hydrated object atomically:
// write to a temp file in the same directory, fsync, rename. Readers see
// either the prior version or the new one, never a partial file.
func (s *Store) Write(caseID string, raw []byte) error {
	if err := s.Validate(raw); err != nil {
		return err
	}

	dir := filepath.Dir(s.Path(caseID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slerrors.Io("mkdir "+dir, err)
	}

	tmp := s.Path(caseID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return slerrors.Io("open hydrated tmp", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return slerrors.Io("write hydrated tmp", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return slerrors.Io("fsync hydrated tmp", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return slerrors.Io("close hydrated tmp", err)
	}
	if err := os.Rename(tmp, s.Path(caseID)); err != nil {
		os.Remove(tmp)
		return slerrors.Io("rename hydrated", err)
	}
	return nil
}

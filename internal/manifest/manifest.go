// Package manifest implements the durable per-case processing log.
//
// Each case's output directory holds a processing_manifest.txt: an
// append-only, line-oriented UTF-8 file that is the single source of truth
// for case and per-file status. Later lines win on conflict, so progress is
// recorded by appending, never by editing prior state.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
)

// FileName is the manifest file name inside a case's output directory.
const FileName = "processing_manifest.txt"

// Line kinds.
const (
	KindFile       = "FILE"
	KindCaseStatus = "CASE_STATUS"
	KindHydrated   = "HYDRATED_JSON"
	KindArtifact   = "ARTIFACT"
	KindError      = "ERROR"
)

// Line is one parsed manifest line.
type Line struct {
	Kind string

	// FILE fields
	File       string
	FileStatus string
	Score      int
	HasScore   bool
	DurationMS int64
	HasDur     bool

	// CASE_STATUS field
	CaseStatus string

	// HYDRATED_JSON / ARTIFACT fields
	Path         string
	ArtifactKind string

	// ERROR fields
	Scope   string
	Message string
}

// Store reads and appends per-case manifests under an output root.
type Store struct {
	outputRoot string
	logger     *logging.Logger

	// Serializes appends per case. The driver lease already guarantees one
	// writer per case; this guards the read-modify cases at startup.
	mu sync.Mutex
}

// NewStore creates a manifest store rooted at outputRoot.
func NewStore(outputRoot string, logger *logging.Logger) *Store {
	return &Store{
		outputRoot: outputRoot,
		logger:     logger,
	}
}

// Path returns the manifest path for a case.
func (s *Store) Path(caseID string) string {
	return filepath.Join(s.outputRoot, caseID, FileName)
}

// Append writes one grammar-valid line followed by a newline and fsyncs the
// file. A crash can only lose the line being written, never corrupt prior
// lines: the write is a single write(2) ending in '\n' and readers discard
// a trailing partial line.
func (s *Store) Append(caseID string, line Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.outputRoot, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slerrors.Io("mkdir "+dir, err)
	}

	f, err := os.OpenFile(s.Path(caseID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slerrors.Io("open manifest", err)
	}
	defer f.Close()

	if _, err := f.WriteString(Format(line) + "\n"); err != nil {
		return slerrors.Io("append manifest", err)
	}
	if err := f.Sync(); err != nil {
		return slerrors.Io("fsync manifest", err)
	}
	return nil
}

// Read returns the ordered, parsed lines of a case's manifest. A missing
// file yields an empty slice. Lines that do not parse are logged at WARN
// and skipped; they are never coerced into a recognized form.
func (s *Store) Read(caseID string) ([]Line, error) {
	raw, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, slerrors.Io("read manifest", err)
	}
	return s.parseAll(caseID, string(raw)), nil
}

// Exists reports whether the case has a manifest on disk.
func (s *Store) Exists(caseID string) bool {
	_, err := os.Stat(s.Path(caseID))
	return err == nil
}

// Rewrite atomically replaces the manifest with the given lines. Used only
// by the one-shot startup migration from the legacy format; normal
// operation is append-only.
func (s *Store) Rewrite(caseID string, lines []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.outputRoot, caseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return slerrors.Io("mkdir "+dir, err)
	}

	tmp := s.Path(caseID) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return slerrors.Io("open manifest tmp", err)
	}

	for _, line := range lines {
		if _, err := f.WriteString(Format(line) + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return slerrors.Io("write manifest tmp", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return slerrors.Io("fsync manifest tmp", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return slerrors.Io("close manifest tmp", err)
	}
	if err := os.Rename(tmp, s.Path(caseID)); err != nil {
		os.Remove(tmp)
		return slerrors.Io("rename manifest", err)
	}
	return nil
}

func (s *Store) parseAll(caseID, raw string) []Line {
	// A trailing chunk without '\n' is an interrupted write; drop it.
	if idx := strings.LastIndexByte(raw, '\n'); idx >= 0 {
		raw = raw[:idx+1]
	} else {
		raw = ""
	}

	var lines []Line
	for i, text := range strings.Split(raw, "\n") {
		text = strings.TrimRight(text, "\r")
		if text == "" {
			continue
		}
		line, err := Parse(text)
		if err != nil {
			if s.logger != nil {
				s.logger.LogManifestSkip(caseID, i+1, text, err.Error())
			}
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// sanitizeField keeps free-text fields from breaking the 5-field grammar.
func sanitizeField(v string) string {
	v = strings.ReplaceAll(v, "|", "/")
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return v
}

// Format renders a Line in the manifest grammar.
func Format(l Line) string {
	switch l.Kind {
	case KindFile:
		score := ""
		if l.HasScore {
			score = strconv.Itoa(l.Score)
		}
		dur := ""
		if l.HasDur {
			dur = strconv.FormatInt(l.DurationMS, 10)
		}
		return strings.Join([]string{KindFile, sanitizeField(l.File), l.FileStatus, score, dur}, "|")
	case KindCaseStatus:
		return KindCaseStatus + "|" + l.CaseStatus
	case KindHydrated:
		return KindHydrated + "|" + sanitizeField(l.Path)
	case KindArtifact:
		return strings.Join([]string{KindArtifact, sanitizeField(l.ArtifactKind), sanitizeField(l.Path)}, "|")
	case KindError:
		return strings.Join([]string{KindError, sanitizeField(l.Scope), sanitizeField(l.Message)}, "|")
	}
	return ""
}

// Parse parses one manifest line.
func Parse(text string) (Line, error) {
	parts := strings.Split(text, "|")
	switch parts[0] {
	case KindFile:
		if len(parts) != 5 {
			return Line{}, fmt.Errorf("FILE line has %d fields, want 5", len(parts))
		}
		line := Line{Kind: KindFile, File: parts[1], FileStatus: parts[2]}
		if line.File == "" {
			return Line{}, fmt.Errorf("FILE line has empty name")
		}
		if parts[3] != "" {
			score, err := strconv.Atoi(parts[3])
			if err != nil {
				return Line{}, fmt.Errorf("FILE score %q: %w", parts[3], err)
			}
			line.Score = score
			line.HasScore = true
		}
		if parts[4] != "" {
			dur, err := strconv.ParseInt(parts[4], 10, 64)
			if err != nil {
				return Line{}, fmt.Errorf("FILE duration %q: %w", parts[4], err)
			}
			line.DurationMS = dur
			line.HasDur = true
		}
		return line, nil
	case KindCaseStatus:
		if len(parts) != 2 || parts[1] == "" {
			return Line{}, fmt.Errorf("CASE_STATUS line malformed")
		}
		return Line{Kind: KindCaseStatus, CaseStatus: parts[1]}, nil
	case KindHydrated:
		if len(parts) != 2 || parts[1] == "" {
			return Line{}, fmt.Errorf("HYDRATED_JSON line malformed")
		}
		return Line{Kind: KindHydrated, Path: parts[1]}, nil
	case KindArtifact:
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return Line{}, fmt.Errorf("ARTIFACT line malformed")
		}
		return Line{Kind: KindArtifact, ArtifactKind: parts[1], Path: parts[2]}, nil
	case KindError:
		if len(parts) < 3 {
			return Line{}, fmt.Errorf("ERROR line malformed")
		}
		// Messages may legitimately contain sanitized separators; rejoin.
		return Line{Kind: KindError, Scope: parts[1], Message: strings.Join(parts[2:], "|")}, nil
	}
	return Line{}, fmt.Errorf("unknown line kind %q", parts[0])
}

// Convenience constructors used by the driver.

// FileLine builds a FILE line.
func FileLine(name, status string, score int, hasScore bool, durationMS int64, hasDur bool) Line {
	return Line{
		Kind:       KindFile,
		File:       name,
		FileStatus: status,
		Score:      score,
		HasScore:   hasScore,
		DurationMS: durationMS,
		HasDur:     hasDur,
	}
}

// CaseStatusLine builds a CASE_STATUS line.
func CaseStatusLine(status string) Line {
	return Line{Kind: KindCaseStatus, CaseStatus: status}
}

// HydratedLine builds a HYDRATED_JSON line.
func HydratedLine(relPath string) Line {
	return Line{Kind: KindHydrated, Path: relPath}
}

// ArtifactLine builds an ARTIFACT line.
func ArtifactLine(kind, relPath string) Line {
	return Line{Kind: KindArtifact, ArtifactKind: kind, Path: relPath}
}

// ErrorLine builds an ERROR line.
func ErrorLine(scope, message string) Line {
	return Line{Kind: KindError, Scope: scope, Message: message}
}

package manifest

import (
	"os"
	"path/filepath"
	"strings"
)

// legacy v0 manifests used one "<file>:<status>" pair per line with no case
// status records. Migration rewrites them into the current grammar exactly
// once, at startup, before any reader or writer touches the case.

// NeedsMigration reports whether the case's manifest is in the legacy format.
func (s *Store) NeedsMigration(caseID string) bool {
	raw, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		return false
	}
	return looksLegacy(string(raw))
}

func looksLegacy(raw string) bool {
	sawPair := false
	for _, text := range strings.Split(raw, "\n") {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.Contains(text, "|") {
			return false
		}
		name, _, ok := strings.Cut(text, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return false
		}
		sawPair = true
	}
	return sawPair
}

// Migrate rewrites a legacy manifest in the current grammar. Statuses that
// are not recognized carry over as FAILED so the file is re-processed rather
// than silently treated as done.
func (s *Store) Migrate(caseID string) error {
	raw, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		return nil
	}

	var lines []Line
	anySuccess := false
	for _, text := range strings.Split(string(raw), "\n") {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		name, status, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		status = strings.ToUpper(strings.TrimSpace(status))

		switch status {
		case "SUCCESS", "DONE", "OK":
			lines = append(lines, FileLine(name, "SUCCESS", 0, false, 0, false))
			anySuccess = true
		case "FAILED", "ERROR":
			lines = append(lines, FileLine(name, "FAILED", 0, false, 0, false))
		default:
			if s.logger != nil {
				s.logger.LogManifestSkip(caseID, 0, text, "legacy status "+status)
			}
			lines = append(lines, FileLine(name, "FAILED", 0, false, 0, false))
		}
	}

	// Only claim PENDING_REVIEW when the hydrated object actually exists;
	// otherwise the case must be re-processed from scratch.
	hydrated := filepath.Join(filepath.Dir(s.Path(caseID)), "hydrated.json")
	if _, statErr := os.Stat(hydrated); statErr == nil && anySuccess {
		lines = append(lines, HydratedLine("hydrated.json"))
		lines = append(lines, CaseStatusLine("PENDING_REVIEW"))
	}

	return s.Rewrite(caseID, lines)
}

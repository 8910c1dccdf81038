package casefile

import (
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// ValidCaseID accepts path-safe directory names only. Anything that could
// escape the input root is rejected outright.
func ValidCaseID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\") {
		return false
	}
	if strings.HasPrefix(id, ".") {
		return false
	}
	return true
}

// DisplayName derives a human-readable case name from its directory name.
func DisplayName(caseID string) string {
	name := strings.NewReplacer("_", " ", "-", " ").Replace(caseID)
	fields := strings.Fields(name)
	for i, f := range fields {
		runes := []rune(f)
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

// dirCreatedAt approximates a directory's creation time with its mtime;
// the filesystems in play do not expose birth time portably.
func dirCreatedAt(dir string) (time.Time, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// latestMtime returns the newest modification time under dir, descending
// into every subdirectory. Used to compute a case's last_updated from its
// output artifacts.
func latestMtime(dir string) (time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}

	var latest time.Time
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if entry.IsDir() {
			if sub, err := latestMtime(filepath.Join(dir, entry.Name())); err == nil && sub.After(latest) {
				latest = sub
			}
		}
	}
	return latest, nil
}

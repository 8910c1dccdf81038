package casefile

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/internal/manifest"
)

// HydratedFileName is the hydrated case object file name inside a case's
// output directory.
const HydratedFileName = "hydrated.json"

// Model builds case snapshots on demand. It holds no case state of its own:
// every call re-derives the snapshot from the filesystem and the manifest.
type Model struct {
	inputRoot  string
	outputRoot string
	store      *manifest.Store
	logger     *logging.Logger
}

// NewModel creates a case model over the given roots.
func NewModel(inputRoot, outputRoot string, store *manifest.Store, logger *logging.Logger) *Model {
	return &Model{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		store:      store,
		logger:     logger,
	}
}

// InputDir returns the input directory for a case.
func (m *Model) InputDir(caseID string) string {
	return filepath.Join(m.inputRoot, caseID)
}

// OutputDir returns the output directory for a case.
func (m *Model) OutputDir(caseID string) string {
	return filepath.Join(m.outputRoot, caseID)
}

// List scans the input root one level deep and builds a Case per
// subdirectory, ordered by case ID.
func (m *Model) List() ([]*Case, error) {
	entries, err := os.ReadDir(m.inputRoot)
	if err != nil {
		return nil, slerrors.Io("read input root", err)
	}

	var cases []*Case
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := m.Get(entry.Name())
		if err != nil {
			m.logger.WithCase(entry.Name()).WithError(err).Warn("Skipping unreadable case")
			continue
		}
		cases = append(cases, c)
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}

// Get builds the snapshot for one case. Returns NotFound when the case's
// input directory does not exist.
func (m *Model) Get(caseID string) (*Case, error) {
	if !ValidCaseID(caseID) {
		return nil, slerrors.NotFound("case", caseID)
	}

	inputDir := filepath.Join(m.inputRoot, caseID)
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return nil, slerrors.NotFound("case", caseID)
	}

	c := &Case{
		ID:     caseID,
		Name:   DisplayName(caseID),
		Status: StatusNew,
	}
	if created, err := dirCreatedAt(inputDir); err == nil {
		c.CreatedAt = created
		c.LastUpdated = created
	}

	files, err := m.scanInputFiles(caseID, inputDir)
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(m.outputRoot, caseID)
	if _, err := os.Stat(outputDir); err != nil {
		// No output directory: nothing has ever run for this case.
		c.Files = files
		return c, nil
	}

	lines, err := m.store.Read(caseID)
	if err != nil {
		return nil, err
	}

	m.fold(c, files, lines)

	hydratedOnDisk := false
	if _, err := os.Stat(filepath.Join(outputDir, HydratedFileName)); err == nil {
		hydratedOnDisk = true
	}

	// Inference rules for manifests predating CASE_STATUS records.
	if c.Status == StatusNew && hydratedOnDisk {
		c.Status = StatusPendingReview
		if c.HydratedPath == "" {
			c.HydratedPath = HydratedFileName
		}
		if len(lines) == 0 {
			// Legacy case: hydrated.json with no manifest at all.
			for i := range c.Files {
				c.Files[i].Status = FileSuccess
			}
		}
	}

	c.Quality = OverallQuality(c.Files)
	if updated, err := latestMtime(outputDir); err == nil && updated.After(c.LastUpdated) {
		c.LastUpdated = updated
	}
	return c, nil
}

// scanInputFiles enumerates regular files in the case input directory in
// deterministic order: lexicographic by name, size as tiebreak.
func (m *Model) scanInputFiles(caseID, inputDir string) ([]FileResult, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, slerrors.Io("read case input dir", err)
	}

	var files []FileResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind := KindOf(entry.Name())
		if !kind.Recognized() {
			m.logger.WithCase(caseID).WithFields(map[string]interface{}{
				"file": entry.Name(),
			}).Warn("Ignoring file with unrecognized extension")
			continue
		}
		result := FileResult{
			Name:   entry.Name(),
			Kind:   kind,
			Status: FilePending,
			OnDisk: true,
		}
		if info, err := entry.Info(); err == nil {
			result.SizeBytes = info.Size()
		}
		files = append(files, result)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name < files[j].Name
		}
		return files[i].SizeBytes < files[j].SizeBytes
	})
	return files, nil
}

// fold applies manifest lines left to right onto the scanned file list.
// Later lines win, which is what permits retries without rewriting history.
func (m *Model) fold(c *Case, files []FileResult, lines []manifest.Line) {
	index := make(map[string]int, len(files))
	for i, f := range files {
		index[f.Name] = i
	}

	for _, line := range lines {
		switch line.Kind {
		case manifest.KindFile:
			if !KnownFileStatus(line.FileStatus) {
				m.logger.LogManifestSkip(c.ID, 0, manifest.Format(line), "unknown file status")
				continue
			}
			i, ok := index[line.File]
			if !ok {
				// Manifest history for a file no longer on disk.
				files = append(files, FileResult{
					Name:   line.File,
					Kind:   KindOf(line.File),
					Status: FileMissing,
					OnDisk: false,
				})
				i = len(files) - 1
				index[line.File] = i
			}
			f := &files[i]
			if f.OnDisk {
				f.Status = FileStatus(line.FileStatus)
			}
			if line.HasScore {
				f.Score = line.Score
				f.HasScore = true
			}
			if line.HasDur {
				f.DurationMS = line.DurationMS
			}
		case manifest.KindCaseStatus:
			if !KnownStatus(line.CaseStatus) {
				m.logger.LogManifestSkip(c.ID, 0, manifest.Format(line), "unknown case status")
				continue
			}
			c.Status = Status(line.CaseStatus)
		case manifest.KindHydrated:
			c.HydratedPath = line.Path
		case manifest.KindArtifact:
			// Re-renders append the same artifacts again; keep one entry each.
			dup := false
			for _, a := range c.Artifacts {
				if a.Kind == line.ArtifactKind && a.Path == line.Path {
					dup = true
					break
				}
			}
			if !dup {
				c.Artifacts = append(c.Artifacts, Artifact{Kind: line.ArtifactKind, Path: line.Path})
			}
		case manifest.KindError:
			c.Errors = append(c.Errors, ErrorSummary{Scope: line.Scope, Message: line.Message})
			// Per-file errors annotate the matching result.
			if name, ok := strings.CutPrefix(line.Scope, "file:"); ok {
				if i, found := index[name]; found {
					files[i].Error = line.Message
				}
			}
		}
	}

	c.Files = files
}

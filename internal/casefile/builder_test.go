package casefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/internal/manifest"
)

type fixture struct {
	inputRoot  string
	outputRoot string
	store      *manifest.Store
	model      *Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inputRoot := t.TempDir()
	outputRoot := t.TempDir()
	logger := logging.New("test", "error", "text")
	store := manifest.NewStore(outputRoot, logger)
	return &fixture{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		store:      store,
		model:      NewModel(inputRoot, outputRoot, store, logger),
	}
}

func (f *fixture) addInput(t *testing.T, caseID, name, content string) {
	t.Helper()
	dir := filepath.Join(f.inputRoot, caseID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func (f *fixture) mkOutputDir(t *testing.T, caseID string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.outputRoot, caseID), 0o755))
}

func TestGetNewCaseWithoutOutputDir(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "complaint.pdf", "x")
	f.addInput(t, "alpha", "notes.docx", "y")

	c, err := f.model.Get("alpha")
	require.NoError(t, err)

	assert.Equal(t, StatusNew, c.Status)
	assert.Equal(t, "Alpha", c.Name)
	require.Len(t, c.Files, 2)
	assert.Equal(t, "complaint.pdf", c.Files[0].Name)
	assert.Equal(t, FilePending, c.Files[0].Status)
	assert.Equal(t, "notes.docx", c.Files[1].Name)
}

func TestGetUnknownCase(t *testing.T) {
	f := newFixture(t)

	_, err := f.model.Get("nope")
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeNotFound, serviceErr.Code)
}

func TestGetRejectsTraversal(t *testing.T) {
	f := newFixture(t)

	_, err := f.model.Get("../etc")
	assert.Error(t, err)
}

func TestGetFoldsManifest(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "complaint.pdf", "x")
	f.addInput(t, "alpha", "notes.docx", "y")

	require.NoError(t, f.store.Append("alpha", manifest.CaseStatusLine("PROCESSING")))
	require.NoError(t, f.store.Append("alpha", manifest.FileLine("complaint.pdf", "IN_PROGRESS", 0, false, 0, false)))
	require.NoError(t, f.store.Append("alpha", manifest.FileLine("complaint.pdf", "SUCCESS", 88, true, 1200, true)))
	require.NoError(t, f.store.Append("alpha", manifest.FileLine("notes.docx", "FAILED", 0, false, 300, true)))
	require.NoError(t, f.store.Append("alpha", manifest.ErrorLine("file:notes.docx", "unreadable")))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, c.Status)
	require.Len(t, c.Files, 2)
	assert.Equal(t, FileSuccess, c.Files[0].Status)
	assert.Equal(t, 88, c.Files[0].Score)
	assert.Equal(t, int64(1200), c.Files[0].DurationMS)
	assert.Equal(t, FileFailed, c.Files[1].Status)
	assert.Equal(t, "unreadable", c.Files[1].Error)
	assert.Equal(t, 88, c.Quality)
	require.Len(t, c.Errors, 1)
	assert.Equal(t, "file:notes.docx", c.Errors[0].Scope)
}

func TestLastWriteWinsOnRetry(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")

	require.NoError(t, f.store.Append("alpha", manifest.FileLine("a.pdf", "FAILED", 0, false, 100, true)))
	require.NoError(t, f.store.Append("alpha", manifest.FileLine("a.pdf", "SUCCESS", 75, true, 90, true)))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	require.Len(t, c.Files, 1)
	assert.Equal(t, FileSuccess, c.Files[0].Status)
	assert.Equal(t, 75, c.Files[0].Score)
}

func TestManifestFileNoLongerOnDisk(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "kept.pdf", "x")

	require.NoError(t, f.store.Append("alpha", manifest.FileLine("gone.pdf", "SUCCESS", 95, true, 100, true)))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	require.Len(t, c.Files, 2)

	var gone *FileResult
	for i := range c.Files {
		if c.Files[i].Name == "gone.pdf" {
			gone = &c.Files[i]
		}
	}
	require.NotNil(t, gone)
	assert.Equal(t, FileMissing, gone.Status)
	assert.Equal(t, 95, gone.Score)
}

func TestUnknownCaseStatusIgnored(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")

	require.NoError(t, f.store.Append("alpha", manifest.CaseStatusLine("PROCESSING")))
	require.NoError(t, f.store.Append("alpha", manifest.CaseStatusLine("FOO")))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	// The unknown token does not clobber the last known-good status.
	assert.Equal(t, StatusProcessing, c.Status)
}

func TestInferPendingReviewFromHydrated(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")
	f.mkOutputDir(t, "alpha")

	require.NoError(t, f.store.Append("alpha", manifest.FileLine("a.pdf", "SUCCESS", 90, true, 10, true)))
	require.NoError(t, os.WriteFile(filepath.Join(f.outputRoot, "alpha", HydratedFileName), []byte("{}"), 0o644))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, c.Status)
	assert.Equal(t, HydratedFileName, c.HydratedPath)
}

func TestLegacyHydratedWithoutManifest(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")
	f.mkOutputDir(t, "alpha")
	require.NoError(t, os.WriteFile(filepath.Join(f.outputRoot, "alpha", HydratedFileName), []byte("{}"), 0o644))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, c.Status)
	require.Len(t, c.Files, 1)
	assert.Equal(t, FileSuccess, c.Files[0].Status)
}

func TestUnrecognizedExtensionsIgnored(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")
	f.addInput(t, "alpha", "photo.png", "x")

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	require.Len(t, c.Files, 1)
	assert.Equal(t, "a.pdf", c.Files[0].Name)
}

func TestArtifactsDeduplicatedAcrossReRenders(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "a.pdf", "x")

	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.Append("alpha", manifest.ArtifactLine("complaint", "complaint.html")))
		require.NoError(t, f.store.Append("alpha", manifest.ArtifactLine("complaint_pdf", "complaint.pdf")))
	}
	require.NoError(t, f.store.Append("alpha", manifest.CaseStatusLine("COMPLETE")))

	c, err := f.model.Get("alpha")
	require.NoError(t, err)
	assert.Len(t, c.Artifacts, 2)
	assert.Equal(t, StatusComplete, c.Status)
}

func TestListOrdersByID(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "zeta", "a.pdf", "x")
	f.addInput(t, "alpha", "a.pdf", "x")
	f.addInput(t, "mid", "a.pdf", "x")

	cases, err := f.model.List()
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, "alpha", cases[0].ID)
	assert.Equal(t, "mid", cases[1].ID)
	assert.Equal(t, "zeta", cases[2].ID)
}

func TestZeroFileCase(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.inputRoot, "empty"), 0o755))

	c, err := f.model.Get("empty")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, c.Status)
	assert.Empty(t, c.Files)
}

func TestGetIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addInput(t, "alpha", "b.pdf", "x")
	f.addInput(t, "alpha", "a.pdf", "x")
	require.NoError(t, f.store.Append("alpha", manifest.CaseStatusLine("PROCESSING")))

	first, err := f.model.Get("alpha")
	require.NoError(t, err)
	second, err := f.model.Get("alpha")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	require.Equal(t, len(first.Files), len(second.Files))
	for i := range first.Files {
		assert.Equal(t, first.Files[i].Name, second.Files[i].Name)
		assert.Equal(t, first.Files[i].Status, second.Files[i].Status)
	}
}

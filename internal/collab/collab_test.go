package collab

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New("test", "error", "text")
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("python3 extract.py --fast")
	require.NoError(t, err)
	assert.Equal(t, "python3", cmd.program)
	assert.Equal(t, []string{"extract.py", "--fast"}, cmd.args)

	_, err = parseCommand("   ")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Credit Corp.", "acme-credit-corp"},
		{"EQUIFAX, Inc.", "equifax-inc"},
		{"  spaced   out  ", "spaced-out"},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestDemoExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "complaint.pdf")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	ex := &DemoExtractor{}
	result, err := ex.Extract(context.Background(), "alpha", path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Score, 0)
	assert.LessOrEqual(t, result.Score, 100)

	var partial map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Partial, &partial))
	assert.Equal(t, "ok", partial["status"])

	// Deterministic per file name.
	again, err := ex.Extract(context.Background(), "alpha", path)
	require.NoError(t, err)
	assert.Equal(t, result.Score, again.Score)
}

func TestDemoExtractorConfiguredFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.docx")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	ex := &DemoExtractor{FailNames: map[string]bool{"notes.docx": true}}
	_, err := ex.Extract(context.Background(), "alpha", path)
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeWorkerFailed, serviceErr.Code)
}

func TestDemoPipelineEndToEnd(t *testing.T) {
	inputDir := t.TempDir()
	outDir := t.TempDir()

	filePath := filepath.Join(inputDir, "complaint.pdf")
	require.NoError(t, os.WriteFile(filePath, []byte("content"), 0o644))

	set := NewDemoSet()
	ctx := context.Background()

	result, err := set.Extractor.Extract(ctx, "alpha", filePath)
	require.NoError(t, err)

	partialPath := filepath.Join(outDir, "complaint.pdf.json")
	require.NoError(t, os.WriteFile(partialPath, result.Partial, 0o644))

	doc, err := set.Consolidator.Consolidate(ctx, "alpha", []string{partialPath})
	require.NoError(t, err)
	assert.True(t, json.Valid(doc))

	hydratedPath := filepath.Join(outDir, "hydrated.json")
	require.NoError(t, os.WriteFile(hydratedPath, doc, 0o644))

	artifacts, err := set.Renderer.Render(ctx, hydratedPath, outDir)
	require.NoError(t, err)
	require.NotEmpty(t, artifacts)
	assert.Equal(t, "complaint", artifacts[0].Kind)

	htmlPath := filepath.Join(outDir, artifacts[0].RelativePath)
	pdfPath := filepath.Join(outDir, "complaint.pdf.out")
	require.NoError(t, set.PDF.Convert(ctx, htmlPath, pdfPath))
	_, err = os.Stat(pdfPath)
	assert.NoError(t, err)
}

func TestExecExtractorTimeoutIsReported(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	logger := testLogger()
	ex, err := NewExecExtractor("/bin/sh -c sleep 5", 1, logger) // 1ns timeout
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), "alpha", "/dev/null")
	require.Error(t, err)
	serviceErr := slerrors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, slerrors.ErrCodeTimeout, serviceErr.Code)
}

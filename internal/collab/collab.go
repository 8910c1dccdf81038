// Package collab holds the engine's external collaborator contracts: the
// entity extractor, the consolidator, the template renderer, and the
// HTML-to-PDF converter. Each is a black box behind a small interface; the
// engine sequences them and records outcomes, nothing more.
package collab

import (
	"context"
)

// ExtractionResult is what the extractor reports for one input file.
type ExtractionResult struct {
	// Score is the extraction quality in [0,100].
	Score int
	// Partial is the raw per-file extraction output, fed to consolidation.
	Partial []byte
}

// Artifact is one rendered output, path relative to the case output dir.
type Artifact struct {
	Kind         string
	RelativePath string
}

// Extractor reads one input file and emits structured legal entities.
type Extractor interface {
	Extract(ctx context.Context, caseID, absPath string) (ExtractionResult, error)
}

// Consolidator merges per-file extraction outputs into one hydrated case
// object. The merge rules belong to the collaborator; the engine writes the
// returned document verbatim.
type Consolidator interface {
	Consolidate(ctx context.Context, caseID string, partialPaths []string) ([]byte, error)
}

// Renderer produces complaint and summons HTML from a hydrated object.
type Renderer interface {
	Render(ctx context.Context, hydratedPath, outDir string) ([]Artifact, error)
}

// PDFConverter converts one HTML artifact to PDF.
type PDFConverter interface {
	Convert(ctx context.Context, htmlPath, pdfPath string) error
}

// Set bundles the four collaborators the driver needs.
type Set struct {
	Extractor    Extractor
	Consolidator Consolidator
	Renderer     Renderer
	PDF          PDFConverter
}

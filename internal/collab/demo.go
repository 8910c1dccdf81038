package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
)

// Demo collaborators run the pipeline end to end with no external binaries.
// They exist for local runs and tests; output is deterministic per input so
// repeated runs of the same case produce identical manifests modulo timing.

// DemoExtractor emits a synthetic extraction result per file.
type DemoExtractor struct {
	// FailNames lists file names that should fail, for exercising the
	// partial-failure path.
	FailNames map[string]bool
}

// Extract implements Extractor.
func (d *DemoExtractor) Extract(ctx context.Context, caseID, absPath string) (ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return ExtractionResult{}, slerrors.Timeout("demo extractor")
	}

	name := filepath.Base(absPath)
	if d.FailNames[name] {
		return ExtractionResult{}, slerrors.WorkerFailed("extractor", fmt.Errorf("unreadable document %s", name))
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return ExtractionResult{}, slerrors.WorkerFailed("extractor", err)
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	score := 60 + int(h.Sum32()%41)

	partial, _ := json.Marshal(map[string]interface{}{
		"status":        "ok",
		"quality_score": score,
		"entities": map[string]interface{}{
			"source_file": name,
			"size_bytes":  info.Size(),
			"case_id":     caseID,
		},
	})
	return ExtractionResult{Score: score, Partial: partial}, nil
}

// DemoConsolidator merges demo partials into a minimal hydrated object.
type DemoConsolidator struct{}

// Consolidate implements Consolidator.
func (d *DemoConsolidator) Consolidate(ctx context.Context, caseID string, partialPaths []string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, slerrors.Timeout("demo consolidator")
	}

	sources := make([]string, 0, len(partialPaths))
	for _, p := range partialPaths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, slerrors.WorkerFailed("consolidator", err)
		}
		var partial struct {
			Entities struct {
				SourceFile string `json:"source_file"`
			} `json:"entities"`
		}
		if err := json.Unmarshal(raw, &partial); err != nil {
			return nil, slerrors.WorkerFailed("consolidator", err)
		}
		sources = append(sources, partial.Entities.SourceFile)
	}

	return json.MarshalIndent(map[string]interface{}{
		"case_id": caseID,
		"court":   map[string]interface{}{"district": "", "division": ""},
		"parties": map[string]interface{}{
			"plaintiff":  map[string]interface{}{"name": ""},
			"defendants": []interface{}{map[string]interface{}{"name": "Demo Defendant"}},
		},
		"causes_of_action": []interface{}{},
		"damages":          []interface{}{},
		"timeline":         []interface{}{},
		"source_documents": sources,
	}, "", "  ")
}

// DemoRenderer writes placeholder HTML artifacts.
type DemoRenderer struct{}

// Render implements Renderer.
func (d *DemoRenderer) Render(ctx context.Context, hydratedPath, outDir string) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, slerrors.Timeout("demo renderer")
	}

	raw, err := os.ReadFile(hydratedPath)
	if err != nil {
		return nil, slerrors.WorkerFailed("renderer", err)
	}
	var doc struct {
		CaseID  string `json:"case_id"`
		Parties struct {
			Defendants []struct {
				Name string `json:"name"`
			} `json:"defendants"`
		} `json:"parties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, slerrors.WorkerFailed("renderer", err)
	}

	complaint := filepath.Join(outDir, "complaint.html")
	body := fmt.Sprintf("<html><body><h1>Complaint</h1><p>Case %s</p></body></html>\n", doc.CaseID)
	if err := os.WriteFile(complaint, []byte(body), 0o644); err != nil {
		return nil, slerrors.Io("write complaint", err)
	}

	artifacts := []Artifact{{Kind: "complaint", RelativePath: "complaint.html"}}

	if len(doc.Parties.Defendants) > 0 {
		summonsDir := filepath.Join(outDir, "summons")
		if err := os.MkdirAll(summonsDir, 0o755); err != nil {
			return nil, slerrors.Io("mkdir summons", err)
		}
		for _, def := range doc.Parties.Defendants {
			slug := Slugify(def.Name)
			if slug == "" {
				continue
			}
			path := filepath.Join(summonsDir, slug+".html")
			page := fmt.Sprintf("<html><body><h1>Summons</h1><p>%s</p></body></html>\n", def.Name)
			if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
				return nil, slerrors.Io("write summons", err)
			}
			artifacts = append(artifacts, Artifact{Kind: "summons", RelativePath: filepath.Join("summons", slug+".html")})
		}
	}
	return artifacts, nil
}

// DemoPDFConverter copies the HTML bytes into the PDF path. Good enough to
// exercise artifact bookkeeping without a real converter.
type DemoPDFConverter struct{}

// Convert implements PDFConverter.
func (d *DemoPDFConverter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	if err := ctx.Err(); err != nil {
		return slerrors.Timeout("demo pdf converter")
	}
	raw, err := os.ReadFile(htmlPath)
	if err != nil {
		return slerrors.WorkerFailed("pdf", err)
	}
	if err := os.WriteFile(pdfPath, raw, 0o644); err != nil {
		return slerrors.Io("write pdf", err)
	}
	return nil
}

// Slugify turns a defendant name into a path-safe file stem.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// NewDemoSet returns the full demo collaborator set.
func NewDemoSet() Set {
	return Set{
		Extractor:    &DemoExtractor{},
		Consolidator: &DemoConsolidator{},
		Renderer:     &DemoRenderer{},
		PDF:          &DemoPDFConverter{},
	}
}

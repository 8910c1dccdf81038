package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
	"github.com/R3E-Network/docket_engine/infrastructure/logging"
)

// command holds a parsed collaborator command line: program plus base args.
type command struct {
	program string
	args    []string
}

func parseCommand(raw string) (command, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	return command{program: fields[0], args: fields[1:]}, nil
}

// run executes the command with a wall-clock timeout, capturing stdout and
// stderr separately. A deadline hit is reported as a Timeout, never as a
// silent hang.
func (c command) run(ctx context.Context, timeout time.Duration, stdin []byte, extraArgs ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, c.args...), extraArgs...)
	cmd := exec.CommandContext(ctx, c.program, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, slerrors.Timeout(c.program)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, slerrors.WorkerFailed(c.program, fmt.Errorf("%s", detail))
	}
	return stdout.Bytes(), nil
}

// ExecExtractor drives EXTRACTOR_CMD. The extractor is invoked with the
// absolute file path and case metadata, and reports on stdout a JSON object
// of at least {status, quality_score, entities}.
type ExecExtractor struct {
	cmd     command
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecExtractor creates a subprocess-backed extractor.
func NewExecExtractor(rawCmd string, timeout time.Duration, logger *logging.Logger) (*ExecExtractor, error) {
	cmd, err := parseCommand(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("EXTRACTOR_CMD: %w", err)
	}
	return &ExecExtractor{cmd: cmd, timeout: timeout, logger: logger}, nil
}

// Extract runs the extractor on one file and parses its result.
func (e *ExecExtractor) Extract(ctx context.Context, caseID, absPath string) (ExtractionResult, error) {
	start := time.Now()
	out, err := e.cmd.run(ctx, e.timeout, nil, absPath, "--case", caseID)
	e.logger.LogWorkerInvocation(caseID, "extractor", e.cmd.program, []string{absPath}, time.Since(start), err)
	if err != nil {
		return ExtractionResult{}, err
	}

	if !gjson.ValidBytes(out) {
		return ExtractionResult{}, slerrors.WorkerFailed("extractor", fmt.Errorf("output is not valid JSON"))
	}

	status := gjson.GetBytes(out, "status").String()
	if status != "ok" {
		msg := gjson.GetBytes(out, "error").String()
		if msg == "" {
			msg = "extractor reported status " + status
		}
		return ExtractionResult{}, slerrors.WorkerFailed("extractor", fmt.Errorf("%s", msg))
	}

	score := int(gjson.GetBytes(out, "quality_score").Int())
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return ExtractionResult{Score: score, Partial: out}, nil
}

// ExecConsolidator drives the extractor binary in consolidate mode. It is
// fed {case_id, partials} on stdin and must print the hydrated case object.
type ExecConsolidator struct {
	cmd     command
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecConsolidator creates a subprocess-backed consolidator.
func NewExecConsolidator(rawCmd string, timeout time.Duration, logger *logging.Logger) (*ExecConsolidator, error) {
	cmd, err := parseCommand(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("EXTRACTOR_CMD: %w", err)
	}
	return &ExecConsolidator{cmd: cmd, timeout: timeout, logger: logger}, nil
}

// Consolidate merges the per-file partials into the hydrated object.
func (c *ExecConsolidator) Consolidate(ctx context.Context, caseID string, partialPaths []string) ([]byte, error) {
	input, err := json.Marshal(map[string]interface{}{
		"case_id":  caseID,
		"partials": partialPaths,
	})
	if err != nil {
		return nil, slerrors.Internal("marshal consolidation input", err)
	}

	start := time.Now()
	out, runErr := c.cmd.run(ctx, c.timeout, input, "--consolidate")
	c.logger.LogWorkerInvocation(caseID, "consolidator", c.cmd.program, partialPaths, time.Since(start), runErr)
	if runErr != nil {
		return nil, runErr
	}

	if !gjson.ValidBytes(out) {
		return nil, slerrors.WorkerFailed("consolidator", fmt.Errorf("output is not valid JSON"))
	}
	return out, nil
}

// ExecRenderer drives RENDERER_CMD: hydrated.json path and output directory
// in, {artifacts: [{kind, relative_path}]} on stdout.
type ExecRenderer struct {
	cmd     command
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecRenderer creates a subprocess-backed renderer.
func NewExecRenderer(rawCmd string, timeout time.Duration, logger *logging.Logger) (*ExecRenderer, error) {
	cmd, err := parseCommand(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("RENDERER_CMD: %w", err)
	}
	return &ExecRenderer{cmd: cmd, timeout: timeout, logger: logger}, nil
}

// Render produces the HTML artifacts for a case.
func (r *ExecRenderer) Render(ctx context.Context, hydratedPath, outDir string) ([]Artifact, error) {
	start := time.Now()
	out, err := r.cmd.run(ctx, r.timeout, nil, hydratedPath, outDir)
	r.logger.LogWorkerInvocation("", "renderer", r.cmd.program, []string{hydratedPath, outDir}, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(out) {
		return nil, slerrors.WorkerFailed("renderer", fmt.Errorf("output is not valid JSON"))
	}

	var artifacts []Artifact
	for _, entry := range gjson.GetBytes(out, "artifacts").Array() {
		kind := entry.Get("kind").String()
		rel := entry.Get("relative_path").String()
		if kind == "" || rel == "" {
			return nil, slerrors.WorkerFailed("renderer", fmt.Errorf("artifact entry missing kind or relative_path"))
		}
		artifacts = append(artifacts, Artifact{Kind: kind, RelativePath: rel})
	}
	if len(artifacts) == 0 {
		return nil, slerrors.WorkerFailed("renderer", fmt.Errorf("renderer produced no artifacts"))
	}
	return artifacts, nil
}

// ExecPDFConverter drives PDF_CMD with an HTML path and a PDF output path.
type ExecPDFConverter struct {
	cmd     command
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecPDFConverter creates a subprocess-backed PDF converter.
func NewExecPDFConverter(rawCmd string, timeout time.Duration, logger *logging.Logger) (*ExecPDFConverter, error) {
	cmd, err := parseCommand(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("PDF_CMD: %w", err)
	}
	return &ExecPDFConverter{cmd: cmd, timeout: timeout, logger: logger}, nil
}

// Convert converts one HTML file to PDF.
func (p *ExecPDFConverter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	start := time.Now()
	_, err := p.cmd.run(ctx, p.timeout, nil, htmlPath, pdfPath)
	p.logger.LogWorkerInvocation("", "pdf", p.cmd.program, []string{htmlPath, pdfPath}, time.Since(start), err)
	return err
}

// Package report turns an analysis result into a deliverable artifact:
// an image, a PDF file, or a plain-text report. Image rendering walks an
// ordered list of quality strategies and degrades gracefully; the HTML
// markup built before rendering survives a total render failure so the
// delivery layer can retry later without rebuilding the analysis.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/selwynd/roomdigest/pkg/roomdigest/analysis"
)

// RenderOptions controls one headless-render attempt.
type RenderOptions struct {
	// FullPage renders the entire page instead of the viewport.
	FullPage bool

	// Format is the image format: "png" or "jpeg".
	Format string

	// Quality is the lossy quality (1-100), ignored for png.
	Quality int
}

// HTMLRenderer is the external headless-render contract. When returnURL is
// true the renderer may hand back a URL instead of bytes; exactly one of
// url/data is set on success.
type HTMLRenderer interface {
	Render(ctx context.Context, html string, opts RenderOptions, returnURL bool) (url string, data []byte, err error)
}

// PDFRenderer is the external print-to-PDF contract.
type PDFRenderer interface {
	PrintToPDF(ctx context.Context, html string, outPath string) error
}

// ImageArtifact is a successfully rendered report image.
type ImageArtifact struct {
	// URL is set when the renderer returned a link instead of bytes.
	URL string

	// Data holds the image bytes when rendered inline.
	Data []byte

	// MimeType is the image MIME type.
	MimeType string
}

// imageStrategy is one entry in the render quality ladder.
type imageStrategy struct {
	name string
	opts RenderOptions
}

// imageStrategies is the quality ladder tried in order: lossless first,
// then progressively cheaper lossy settings.
var imageStrategies = []imageStrategy{
	{name: "png_full", opts: RenderOptions{FullPage: true, Format: "png"}},
	{name: "jpeg_q90", opts: RenderOptions{FullPage: true, Format: "jpeg", Quality: 90}},
	{name: "jpeg_q75", opts: RenderOptions{FullPage: true, Format: "jpeg", Quality: 75}},
	{name: "jpeg_q60", opts: RenderOptions{FullPage: true, Format: "jpeg", Quality: 60}},
}

// RetryRenderOptions is the single cheaper strategy used when the delivery
// engine re-renders a queued task. Retries deliberately do not reuse the
// first-attempt artifact: re-rendering at lower quality keeps retry
// bandwidth small.
var RetryRenderOptions = RenderOptions{FullPage: true, Format: "jpeg", Quality: 85}

// Generator renders analysis results into report artifacts.
type Generator struct {
	renderer HTMLRenderer
	pdf      PDFRenderer
	tmpDir   string
	logger   *slog.Logger
}

// NewGenerator creates a report generator. renderer and pdf may be nil when
// the corresponding output format is not configured; tmpDir defaults to the
// OS temp directory.
func NewGenerator(renderer HTMLRenderer, pdf PDFRenderer, tmpDir string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Generator{
		renderer: renderer,
		pdf:      pdf,
		tmpDir:   tmpDir,
		logger:   logger.With("component", "report"),
	}
}

// BuildHTML renders the report template for a result.
func (g *Generator) BuildHTML(res *analysis.Result) (string, error) {
	return buildReportHTML(res)
}

// RenderImage builds the report HTML and walks the strategy ladder until one
// succeeds. On total render failure it returns (nil, html, nil): the markup
// is still usable, so the caller can queue the task for a later retry.
// A non-nil error means the HTML itself could not be built.
func (g *Generator) RenderImage(ctx context.Context, res *analysis.Result) (*ImageArtifact, string, error) {
	if g.renderer == nil {
		return nil, "", fmt.Errorf("report: no image renderer configured")
	}

	html, err := buildReportHTML(res)
	if err != nil {
		return nil, "", fmt.Errorf("report: building HTML: %w", err)
	}

	for _, strat := range imageStrategies {
		url, data, err := g.renderer.Render(ctx, html, strat.opts, false)
		if err != nil {
			g.logger.Warn("render strategy failed",
				"strategy", strat.name,
				"room", res.RoomID,
				"error", err,
			)
			continue
		}
		if url == "" && len(data) == 0 {
			g.logger.Warn("render strategy returned nothing", "strategy", strat.name, "room", res.RoomID)
			continue
		}
		g.logger.Info("image rendered", "strategy", strat.name, "room", res.RoomID, "bytes", len(data))
		return &ImageArtifact{URL: url, Data: data, MimeType: ImageMime(data, strat.opts)}, html, nil
	}

	g.logger.Error("all render strategies failed, keeping markup for retry", "room", res.RoomID)
	return nil, html, nil
}

// RenderPDF builds the report HTML and prints it to a temp PDF file.
// Returns the file path, or "" when rendering failed and the caller should
// fall back to the text report. PDF rendering is single-strategy.
func (g *Generator) RenderPDF(ctx context.Context, res *analysis.Result) (string, error) {
	if g.pdf == nil {
		return "", fmt.Errorf("report: no PDF renderer configured")
	}

	html, err := buildReportHTML(res)
	if err != nil {
		return "", fmt.Errorf("report: building HTML: %w", err)
	}

	outPath := filepath.Join(g.tmpDir, fmt.Sprintf("roomdigest-%s.pdf", uuid.NewString()))
	if err := g.pdf.PrintToPDF(ctx, html, outPath); err != nil {
		g.logger.Error("PDF render failed", "room", res.RoomID, "error", err)
		return "", nil
	}

	g.logger.Info("PDF rendered", "room", res.RoomID, "path", outPath)
	return outPath, nil
}

// ImageMime returns the MIME type of a rendered image. The bytes win over
// the requested format: some renderers only emit PNG regardless of options.
func ImageMime(data []byte, opts RenderOptions) string {
	if len(data) > 0 {
		if mt := http.DetectContentType(data); strings.HasPrefix(mt, "image/") {
			return mt
		}
	}
	if opts.Format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

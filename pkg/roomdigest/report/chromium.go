package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// chromiumCandidates are binary names probed on PATH, most specific first.
var chromiumCandidates = []string{
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// FindChromium returns the path of a usable headless browser binary, or ""
// when none is installed. An explicit non-empty override wins.
func FindChromium(override string) string {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override
		}
		return ""
	}
	for _, name := range chromiumCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// ChromiumRenderer renders HTML by shelling out to a headless Chromium.
// Implements both HTMLRenderer and PDFRenderer.
type ChromiumRenderer struct {
	binary string
	tmpDir string
	logger *slog.Logger
}

// NewChromiumRenderer creates a renderer around the given browser binary.
func NewChromiumRenderer(binary, tmpDir string, logger *slog.Logger) *ChromiumRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &ChromiumRenderer{
		binary: binary,
		tmpDir: tmpDir,
		logger: logger.With("component", "chromium"),
	}
}

// Render writes the HTML to a temp file and screenshots it headlessly.
// Chromium screenshots are always PNG; the lossy strategies in the quality
// ladder still shrink output because the window height is reduced. returnURL
// is not supported by this renderer and always yields bytes.
func (r *ChromiumRenderer) Render(ctx context.Context, html string, opts RenderOptions, returnURL bool) (string, []byte, error) {
	htmlPath, cleanup, err := r.writeTempHTML(html)
	if err != nil {
		return "", nil, err
	}
	defer cleanup()

	outPath := filepath.Join(r.tmpDir, fmt.Sprintf("roomdigest-%s.png", uuid.NewString()))
	defer os.Remove(outPath)

	height := 4000
	if !opts.FullPage {
		height = 1200
	}

	args := []string{
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		fmt.Sprintf("--window-size=900,%d", height),
		"--screenshot=" + outPath,
		"file://" + htmlPath,
	}

	if err := r.runBrowser(ctx, args); err != nil {
		return "", nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return "", nil, fmt.Errorf("reading screenshot: %w", err)
	}
	return "", data, nil
}

// PrintToPDF prints the HTML to a PDF file at outPath.
func (r *ChromiumRenderer) PrintToPDF(ctx context.Context, html string, outPath string) error {
	htmlPath, cleanup, err := r.writeTempHTML(html)
	if err != nil {
		return err
	}
	defer cleanup()

	args := []string{
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--print-to-pdf=" + outPath,
		"--no-pdf-header-footer",
		"file://" + htmlPath,
	}
	return r.runBrowser(ctx, args)
}

func (r *ChromiumRenderer) writeTempHTML(html string) (string, func(), error) {
	f, err := os.CreateTemp(r.tmpDir, "roomdigest-*.html")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp html: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(html); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("writing temp html: %w", err)
	}
	f.Close()
	return path, func() { os.Remove(path) }, nil
}

func (r *ChromiumRenderer) runBrowser(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Debug("browser invocation failed", "args", args, "output", string(out))
		return fmt.Errorf("running %s: %w", filepath.Base(r.binary), err)
	}
	return nil
}

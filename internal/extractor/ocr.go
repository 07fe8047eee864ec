package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
)

// ErrOCRUnavailable is returned when the rasteriser or the OCR engine is not
// installed.
var ErrOCRUnavailable = errors.New("OCR toolchain unavailable")

// DefaultDPI is the rasterisation resolution used for OCR.
const DefaultDPI = 300

// OCR turns an image-only PDF into page text.
type OCR interface {
	Available() bool
	Recognize(ctx context.Context, filePath string) ([]string, error)
}

// Tesseract rasterises pages with pdftoppm and reads them with tesseract.
type Tesseract struct {
	DPI  int
	Lang string
}

// NewTesseract returns a Tesseract capability; zero values pick defaults.
func NewTesseract(dpi int, lang string) *Tesseract {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{DPI: dpi, Lang: lang}
}

// Available reports whether both pdftoppm and tesseract are on PATH.
func (t *Tesseract) Available() bool {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return false
	}
	_, err := exec.LookPath("tesseract")
	return err == nil
}

// Recognize rasterises every page and returns the OCR text per page.
func (t *Tesseract) Recognize(ctx context.Context, filePath string) ([]string, error) {
	if !t.Available() {
		return nil, ErrOCRUnavailable
	}
	log := logger.FromContext(ctx)

	tmpDir, err := os.MkdirTemp("", "ocr-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	imgPrefix := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-r", strconv.Itoa(t.DPI), "-png", filePath, imgPrefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp dir: %w", err)
	}
	var images []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".png") {
			images = append(images, filepath.Join(tmpDir, e.Name()))
		}
	}
	sort.Strings(images)
	if len(images) == 0 {
		return nil, errors.New("pdftoppm produced no page images")
	}

	var pages []string
	for _, img := range images {
		outBase := strings.TrimSuffix(img, ".png") + "-ocr"
		// PSM 4: a single column of text of variable sizes.
		cmd := exec.CommandContext(ctx, "tesseract", img, outBase, "-l", t.Lang, "--psm", "4")
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Warn().Err(err).Str("image", filepath.Base(img)).
				Str("output", strings.TrimSpace(string(out))).Msg("tesseract failed on page")
			continue
		}
		data, err := os.ReadFile(outBase + ".txt")
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("tesseract produced no text from %d page images", len(images))
	}
	log.Debug().Int("pages", len(pages)).Int("dpi", t.DPI).Msg("OCR complete")
	return pages, nil
}

// NoOCR is an OCR capability that is never available.
type NoOCR struct{}

func (NoOCR) Available() bool { return false }

func (NoOCR) Recognize(context.Context, string) ([]string, error) {
	return nil, ErrOCRUnavailable
}

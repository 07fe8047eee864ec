package extractor

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func TestTesseractAvailable(t *testing.T) {
	result := NewTesseract(0, "").Available()
	t.Logf("Available() = %v", result)

	_, err1 := exec.LookPath("pdftoppm")
	_, err2 := exec.LookPath("tesseract")
	expected := err1 == nil && err2 == nil
	if result != expected {
		t.Errorf("Available() = %v, but direct check says %v", result, expected)
	}
}

func TestNewTesseractDefaults(t *testing.T) {
	tess := NewTesseract(0, "")
	if tess.DPI != DefaultDPI {
		t.Errorf("DPI: got %d, want %d", tess.DPI, DefaultDPI)
	}
	if tess.Lang != "eng" {
		t.Errorf("Lang: got %q, want %q", tess.Lang, "eng")
	}
}

func TestRecognize_MissingTools(t *testing.T) {
	tess := NewTesseract(300, "eng")
	if tess.Available() {
		t.Skip("OCR tools are installed; cannot test missing-tool error path")
	}

	_, err := tess.Recognize(context.Background(), "/nonexistent/file.pdf")
	if !errors.Is(err, ErrOCRUnavailable) {
		t.Errorf("got %v, want ErrOCRUnavailable", err)
	}
}

func TestRecognize_NonexistentFile(t *testing.T) {
	tess := NewTesseract(300, "eng")
	if !tess.Available() {
		t.Skip("OCR tools not installed; skipping")
	}

	if _, err := tess.Recognize(context.Background(), "/tmp/nonexistent-file-12345.pdf"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestNoOCR(t *testing.T) {
	var o OCR = NoOCR{}
	if o.Available() {
		t.Error("NoOCR should never be available")
	}
	if _, err := o.Recognize(context.Background(), "x.pdf"); !errors.Is(err, ErrOCRUnavailable) {
		t.Errorf("got %v, want ErrOCRUnavailable", err)
	}
}

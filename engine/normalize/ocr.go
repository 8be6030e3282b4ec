package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrOCRUnavailable is returned when the OCR tools are not installed.
var ErrOCRUnavailable = errors.New("ocr: pdftoppm or tesseract not found")

// OCR recognizes the text of one rendered PDF page.
type OCR interface {
	Page(ctx context.Context, pdfPath string, page int) (string, error)
}

// Tesseract renders a page with pdftoppm at 300 DPI and reads it with
// tesseract.
type Tesseract struct {
	Lang string
}

func (t Tesseract) Page(ctx context.Context, pdfPath string, page int) (string, error) {
	pdftoppm, err := exec.LookPath("pdftoppm")
	if err != nil {
		return "", ErrOCRUnavailable
	}
	tesseract, err := exec.LookPath("tesseract")
	if err != nil {
		return "", ErrOCRUnavailable
	}
	dir, err := os.MkdirTemp("", "kb-ocr-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	n := strconv.Itoa(page)
	prefix := filepath.Join(dir, "page")
	render := exec.CommandContext(ctx, pdftoppm, "-f", n, "-l", n, "-r", "300", "-png", "-singlefile", pdfPath, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(out))
	}

	lang := t.Lang
	if lang == "" {
		lang = "eng"
	}
	var stdout, stderr bytes.Buffer
	read := exec.CommandContext(ctx, tesseract, prefix+".png", "stdout", "-l", lang)
	read.Stdout, read.Stderr = &stdout, &stderr
	if err := read.Run(); err != nil {
		return "", fmt.Errorf("tesseract page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

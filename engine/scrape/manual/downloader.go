// Package manual downloads the factory service manual PDF. Downloads resume
// from a .part file and only a file that starts with the PDF magic is ever
// renamed into place.
package manual

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/scrape"
	"github.com/WessleyAI/axlelore-kb/pkg/fetch"
)

// ErrNotPDF is returned when the downloaded bytes are not a PDF.
var ErrNotPDF = errors.New("manual: not a PDF file")

// ErrTooLarge is returned when the server announces more than MaxFileSize.
var ErrTooLarge = errors.New("manual: file too large")

// DriveURL is the direct download URL of a shared Google Drive file.
func DriveURL(fileID string) string {
	return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(fileID)
}

// Downloader fetches one PDF to a local path.
type Downloader struct {
	fetch       scrape.Fetcher
	maxFileSize int64
}

// NewDownloader creates a Downloader. A maxFileSize of zero means no limit.
func NewDownloader(f scrape.Fetcher, maxFileSize int64) *Downloader {
	return &Downloader{fetch: f, maxFileSize: maxFileSize}
}

// Download saves src to dst and reports whether bytes were transferred.
// An existing dst is left alone.
func (d *Downloader) Download(ctx context.Context, src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("mkdir: %w", err)
	}
	part := dst + ".part"

	resp, err := d.open(ctx, src, part)
	var se *fetch.StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusRequestedRangeNotSatisfiable:
		// The .part file already holds the whole body.
	case err != nil:
		return false, err
	default:
		err := d.save(resp, part)
		resp.Body.Close()
		if err != nil {
			return false, err
		}
	}

	if err := verifyPDF(part); err != nil {
		os.Remove(part)
		return false, err
	}
	if err := os.Rename(part, dst); err != nil {
		return false, fmt.Errorf("rename: %w", err)
	}
	return true, nil
}

// open requests src, resuming from part when it exists. Drive answers large
// files with an HTML confirmation page; its form is followed once.
func (d *Downloader) open(ctx context.Context, src, part string) (*http.Response, error) {
	header := http.Header{}
	if info, err := os.Stat(part); err == nil && info.Size() > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", info.Size()))
	}
	resp, err := d.fetch.Open(ctx, src, header).Unwrap()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return resp, nil
	}
	next, err := confirmURL(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	return d.fetch.Open(ctx, next, header).Unwrap()
}

// confirmURL reads the Drive virus-scan warning and returns the download
// URL its form submits to.
func confirmURL(resp *http.Response) (string, error) {
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("confirm page: %w", err)
	}
	form := doc.Find("form#download-form").First()
	action, ok := form.Attr("action")
	if !ok {
		return "", fmt.Errorf("%w: got an HTML page", ErrNotPDF)
	}
	base := resp.Request.URL
	target, err := base.Parse(action)
	if err != nil {
		return "", fmt.Errorf("confirm action: %w", err)
	}
	q := target.Query()
	form.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		val, _ := in.Attr("value")
		if name != "" {
			q.Set(name, val)
		}
	})
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// save writes the body to part, appending on 206 and truncating otherwise.
func (d *Downloader) save(resp *http.Response, part string) error {
	var existing int64
	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		if info, err := os.Stat(part); err == nil {
			existing = info.Size()
		}
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	if d.maxFileSize > 0 && resp.ContentLength > 0 && existing+resp.ContentLength > d.maxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, existing+resp.ContentLength)
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	var body io.Reader = resp.Body
	if d.maxFileSize > 0 {
		body = io.LimitReader(resp.Body, d.maxFileSize-existing)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return f.Close()
}

// verifyPDF checks that the file starts with %PDF.
func verifyPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil || string(header) != "%PDF" {
		return ErrNotPDF
	}
	return nil
}

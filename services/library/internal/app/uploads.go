package app

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"

	"github.com/abdulaziz-uzb777/library-project/internal/util"
)

// UploadFile is the part of multipart.File the upload pipeline needs.
type UploadFile interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Upload is a file received with a book form.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	File        UploadFile
}

var pdfMagic = []byte("%PDF-")

var coverExtensions = map[string]string{
	"image/gif":  "gif",
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// legacyCoverExtensions are probed when deleting a book whose record has
// no cover key.
var legacyCoverExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// checkPDF enforces the size limit and that the upload parses as a PDF with
// at least one page. It returns the page count.
func checkPDF(u *Upload, limit int64) (int, error) {
	if u.Size > limit {
		return 0, tooLarge(fmt.Sprintf("PDF file exceeds the %s limit", humanize.IBytes(uint64(limit))))
	}
	if u.Size < int64(len(pdfMagic)) {
		return 0, badRequest("PDF file is empty")
	}
	head := make([]byte, len(pdfMagic))
	if _, err := u.File.ReadAt(head, 0); err != nil || !bytes.Equal(head, pdfMagic) {
		return 0, badRequest("PDF file is not a valid PDF document")
	}
	pages, err := countPages(u.File, u.Size)
	if err != nil || pages < 1 {
		return 0, badRequest("PDF file is not a valid PDF document")
	}
	if _, err := u.File.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind pdf: %w", err)
	}
	return pages, nil
}

// countPages parses the PDF trailer and page tree. The parser panics on
// some malformed input, which is reported as an error.
func countPages(r io.ReaderAt, size int64) (pages int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parse pdf: %v", p)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}

// checkCover enforces the size limit and sniffs the image type. It returns
// the object key extension.
func checkCover(u *Upload, limit int64) (string, error) {
	if u.Size > limit {
		return "", tooLarge(fmt.Sprintf("Cover image exceeds the %s limit", humanize.IBytes(uint64(limit))))
	}
	if u.Size == 0 {
		return "", badRequest("Cover image is empty")
	}
	head := make([]byte, min(u.Size, 512))
	if _, err := u.File.ReadAt(head, 0); err != nil && err != io.EOF {
		return "", fmt.Errorf("read cover: %w", err)
	}
	ext, ok := coverExtensions[http.DetectContentType(head)]
	if !ok {
		return "", badRequest("Cover image must be a JPEG, PNG, GIF or WebP image")
	}
	if _, err := u.File.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind cover: %w", err)
	}
	return ext, nil
}

// objectVersion tags the files written by one book update.
func objectVersion(now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), util.RandomHex(3))
}

// pdfKey is "<id>.pdf" for the first upload and "<id>_<version>.pdf" for
// replacements.
func pdfKey(bookID, version string) string {
	return objectBase(bookID, version) + ".pdf"
}

func coverKey(bookID, version, ext string) string {
	return objectBase(bookID, version) + "_cover." + ext
}

func objectBase(bookID, version string) string {
	if version == "" {
		return bookID
	}
	return bookID + "_" + version
}

func coverContentType(ext string) string {
	for ct, e := range coverExtensions {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}

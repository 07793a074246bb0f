package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

// BookInput carries the text fields of the book form. On update, empty
// fields keep their stored values.
type BookInput struct {
	Title       string
	Author      string
	Description string
	Summary     string
	Category    string
}

func (in BookInput) trimmed() BookInput {
	return BookInput{
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: strings.TrimSpace(in.Description),
		Summary:     strings.TrimSpace(in.Summary),
		Category:    strings.TrimSpace(in.Category),
	}
}

// checked holds validated uploads ready to be stored.
type checked struct {
	pdf      *Upload
	pages    int
	cover    *Upload
	coverExt string
}

// stored reports which objects an upload round wrote.
type stored struct {
	pdfKey   string
	coverKey string
}

// CreateBook validates the form and files, stores the files and creates the
// record. A failed PDF upload aborts creation; a failed cover upload only
// leaves the book without a cover.
func (a *App) CreateBook(ctx context.Context, in BookInput, pdfFile, cover *Upload) (domain.Book, error) {
	in = in.trimmed()
	if in.Title == "" || in.Author == "" || in.Description == "" || in.Summary == "" || in.Category == "" {
		return domain.Book{}, badRequest("All fields are required")
	}
	files, err := a.checkUploads(pdfFile, cover)
	if err != nil {
		return domain.Book{}, err
	}

	now := a.now()
	book := domain.Book{
		ID:          store.NewBookID(now),
		Title:       in.Title,
		Author:      in.Author,
		Description: in.Description,
		Summary:     in.Summary,
		Category:    in.Category,
		CreatedAt:   now.UnixMilli(),
	}
	keys, err := a.storeUploads(ctx, book.ID, "", files)
	if err != nil {
		return domain.Book{}, err
	}
	book.PDFKey = keys.pdfKey
	book.CoverKey = keys.coverKey
	if keys.pdfKey != "" {
		book.PageCount = files.pages
	}
	if err := a.store.CreateBook(ctx, book); err != nil {
		a.deleteObjects(ctx, keys.pdfKey, keys.coverKey)
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return a.present(ctx, book), nil
}

// UpdateBook applies the non-empty form fields and replaces any uploaded
// file. Replacement files are written under fresh keys, so a failed update
// leaves the stored book and its objects as they were. Superseded objects
// are removed once the record is committed.
func (a *App) UpdateBook(ctx context.Context, id string, in BookInput, pdfFile, cover *Upload) (domain.Book, error) {
	if _, ok, err := a.store.GetBook(ctx, id); err != nil {
		return domain.Book{}, err
	} else if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	files, err := a.checkUploads(pdfFile, cover)
	if err != nil {
		return domain.Book{}, err
	}
	keys, err := a.storeUploads(ctx, id, objectVersion(a.now()), files)
	if err != nil {
		return domain.Book{}, err
	}

	in = in.trimmed()
	var superseded []string
	updated, err := a.store.UpdateBook(ctx, id, func(b *domain.Book) error {
		superseded = superseded[:0]
		setIfPresent(&b.Title, in.Title)
		setIfPresent(&b.Author, in.Author)
		setIfPresent(&b.Description, in.Description)
		setIfPresent(&b.Summary, in.Summary)
		setIfPresent(&b.Category, in.Category)
		if keys.pdfKey != "" {
			superseded = append(superseded, b.PDFKey)
			b.PDFKey = keys.pdfKey
			b.PageCount = files.pages
		}
		if keys.coverKey != "" {
			superseded = append(superseded, b.CoverKey)
			b.CoverKey = keys.coverKey
		}
		b.PDFURL, b.CoverImageURL = "", ""
		b.UpdatedAt = a.now().UnixMilli()
		return nil
	})
	if err != nil {
		a.deleteObjects(ctx, keys.pdfKey, keys.coverKey)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Book{}, ErrBookNotFound
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	a.deleteObjects(ctx, superseded...)
	return a.present(ctx, updated), nil
}

// DeleteBook removes the book's files, best effort, then its record.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	keys := []string{book.PDFKey, book.CoverKey}
	if book.PDFKey == "" {
		keys = append(keys, pdfKey(id, ""))
	}
	if book.CoverKey == "" {
		for _, ext := range legacyCoverExtensions {
			keys = append(keys, coverKey(id, "", ext))
		}
	}
	a.deleteObjects(ctx, keys...)
	return a.store.DeleteBook(ctx, id)
}

// ListBooks returns every book with fresh signed URLs.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range books {
		books[i] = a.present(ctx, books[i])
	}
	return books, nil
}

// GetBook returns one book with fresh signed URLs.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return a.present(ctx, book), nil
}

func (a *App) checkUploads(pdfFile, cover *Upload) (checked, error) {
	var c checked
	if pdfFile != nil {
		pages, err := checkPDF(pdfFile, a.maxPDFBytes)
		if err != nil {
			return c, err
		}
		c.pdf, c.pages = pdfFile, pages
	}
	if cover != nil {
		ext, err := checkCover(cover, a.maxCoverBytes)
		if err != nil {
			return c, err
		}
		c.cover, c.coverExt = cover, ext
	}
	return c, nil
}

// storeUploads writes the PDF and cover concurrently under keys of the given
// version. Only a PDF failure is returned, after removing whatever this call
// wrote; the cover is dropped with a warning if it cannot be stored.
func (a *App) storeUploads(ctx context.Context, bookID, version string, files checked) (stored, error) {
	var keys stored
	g, gctx := errgroup.WithContext(ctx)
	if files.pdf != nil {
		g.Go(func() error {
			key := pdfKey(bookID, version)
			if err := a.objects.Put(gctx, key, files.pdf.File, files.pdf.Size, "application/pdf"); err != nil {
				return fmt.Errorf("upload pdf: %w", err)
			}
			keys.pdfKey = key
			return nil
		})
	}
	if files.cover != nil {
		g.Go(func() error {
			key := coverKey(bookID, version, files.coverExt)
			if err := a.objects.Put(gctx, key, files.cover.File, files.cover.Size, coverContentType(files.coverExt)); err != nil {
				a.logger(ctx).Warn("cover upload failed, continuing without cover", "book_id", bookID, "err", err)
				return nil
			}
			keys.coverKey = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.deleteObjects(ctx, keys.coverKey)
		return stored{}, err
	}
	return keys, nil
}

func (a *App) deleteObjects(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil {
			a.logger(ctx).Warn("delete object failed", "key", key, "err", err)
		}
	}
}

// present fills the signed URLs of b. Signing failures leave the URL empty.
func (a *App) present(ctx context.Context, b domain.Book) domain.Book {
	b.PDFURL, b.CoverImageURL = "", ""
	if b.PDFKey != "" {
		if u, err := a.objects.PresignGet(ctx, b.PDFKey, a.signedURLExpiry); err == nil {
			b.PDFURL = u
		} else {
			a.logger(ctx).Warn("sign pdf url", "book_id", b.ID, "err", err)
		}
	}
	if b.CoverKey != "" {
		if u, err := a.objects.PresignGet(ctx, b.CoverKey, a.signedURLExpiry); err == nil {
			b.CoverImageURL = u
		} else {
			a.logger(ctx).Warn("sign cover url", "book_id", b.ID, "err", err)
		}
	}
	return b
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

package app

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/net/html"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

const maxCommentRunes = 5000

// AddComment posts a comment on a book as the signed-in reader.
func (a *App) AddComment(ctx context.Context, userID, bookID, text string) (domain.Comment, error) {
	text = sanitizeText(text)
	if text == "" {
		return domain.Comment{}, badRequest("Comment text is required")
	}
	if len([]rune(text)) > maxCommentRunes {
		return domain.Comment{}, badRequest("Comment text is too long")
	}
	if _, ok, err := a.store.GetBook(ctx, bookID); err != nil {
		return domain.Comment{}, err
	} else if !ok {
		return domain.Comment{}, ErrBookNotFound
	}
	profile, ok, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, ErrProfileNotFound
	}
	now := a.now()
	c := domain.Comment{
		ID:        store.NewCommentKey(bookID, now),
		BookID:    bookID,
		UserID:    userID,
		UserName:  profile.FirstName + " " + profile.LastName,
		UserLogin: profile.Login,
		Text:      text,
		CreatedAt: now.UnixMilli(),
	}
	if err := a.store.SaveComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// ListComments returns a book's comments, newest first.
func (a *App) ListComments(ctx context.Context, bookID string) ([]domain.Comment, error) {
	return a.store.ListComments(ctx, bookID)
}

// ListAllComments returns every comment, newest first.
func (a *App) ListAllComments(ctx context.Context) ([]domain.Comment, error) {
	return a.store.ListAllComments(ctx)
}

// DeleteComment removes a comment by its id.
func (a *App) DeleteComment(ctx context.Context, id string) error {
	if err := a.store.DeleteComment(ctx, id); err != nil {
		if errors.Is(err, store.ErrKindMismatch) {
			return ErrCommentNotFound
		}
		return err
	}
	return nil
}

// sanitizeText drops markup from user text, keeping only its character
// data, and trims the result.
func sanitizeText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

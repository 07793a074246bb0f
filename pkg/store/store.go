// Package store maps library entities onto kind-tagged records in a kv.Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
)

// Store persists users, accounts, books, comments, feedback, ratings and
// admin tokens.
type Store struct {
	kv kv.Store
}

// New wraps a kv.Store.
func New(s kv.Store) *Store {
	return &Store{kv: s}
}

// KV returns the underlying key-value store.
func (s *Store) KV() kv.Store { return s.kv }

// users

func (s *Store) SaveUser(ctx context.Context, u domain.UserProfile) error {
	return putRecord(ctx, s.kv, UserKey(u.ID), KindUser, u)
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.UserProfile, bool, error) {
	return getRecord[domain.UserProfile](ctx, s.kv, UserKey(id), KindUser)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	return listValues[domain.UserProfile](ctx, s.kv, KindUser.Prefix(), KindUser)
}

// UpdateUser applies fn to the stored profile atomically. ErrNotFound when
// the profile does not exist.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*domain.UserProfile) error) (domain.UserProfile, error) {
	return updateRecord(ctx, s.kv, UserKey(id), KindUser, fn)
}

// accounts

// CreateAccount stores credentials; ErrExists when the login is taken.
func (s *Store) CreateAccount(ctx context.Context, a domain.Account) error {
	return createRecord(ctx, s.kv, AccountKey(a.Login), KindAccount, a)
}

func (s *Store) GetAccount(ctx context.Context, login string) (domain.Account, bool, error) {
	return getRecord[domain.Account](ctx, s.kv, AccountKey(login), KindAccount)
}

func (s *Store) DeleteAccount(ctx context.Context, login string) error {
	return s.kv.Del(ctx, AccountKey(login))
}

// books

// CreateBook stores a new book; ErrExists when the id is taken.
func (s *Store) CreateBook(ctx context.Context, b domain.Book) error {
	return createRecord(ctx, s.kv, BookKey(b.ID), KindBook, b)
}

func (s *Store) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return getRecord[domain.Book](ctx, s.kv, BookKey(id), KindBook)
}

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return listValues[domain.Book](ctx, s.kv, KindBook.Prefix(), KindBook)
}

func (s *Store) UpdateBook(ctx context.Context, id string, fn func(*domain.Book) error) (domain.Book, error) {
	return updateRecord(ctx, s.kv, BookKey(id), KindBook, fn)
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	return s.kv.Del(ctx, BookKey(id))
}

// comments

// SaveComment stores c under c.ID, which must live under the book's prefix.
func (s *Store) SaveComment(ctx context.Context, c domain.Comment) error {
	if !strings.HasPrefix(c.ID, CommentPrefix(c.BookID)) {
		return fmt.Errorf("%w: comment id %q outside book %q", ErrKindMismatch, c.ID, c.BookID)
	}
	return putRecord(ctx, s.kv, c.ID, KindComment, c)
}

// ListComments returns the comments of one book, newest first.
func (s *Store) ListComments(ctx context.Context, bookID string) ([]domain.Comment, error) {
	out, err := listValues[domain.Comment](ctx, s.kv, CommentPrefix(bookID), KindComment)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(c domain.Comment) (int64, string) { return c.CreatedAt, c.ID })
	return out, nil
}

// ListAllComments returns every comment, newest first.
func (s *Store) ListAllComments(ctx context.Context) ([]domain.Comment, error) {
	out, err := listValues[domain.Comment](ctx, s.kv, KindComment.Prefix(), KindComment)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(c domain.Comment) (int64, string) { return c.CreatedAt, c.ID })
	return out, nil
}

// DeleteComment removes the comment whose record key is id.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	if err := checkKind(id, KindComment); err != nil {
		return err
	}
	return s.kv.Del(ctx, id)
}

// feedback

func (s *Store) SaveFeedback(ctx context.Context, f domain.Feedback) error {
	return putRecord(ctx, s.kv, f.ID, KindFeedback, f)
}

// ListFeedback returns every feedback message, newest first.
func (s *Store) ListFeedback(ctx context.Context) ([]domain.Feedback, error) {
	out, err := listValues[domain.Feedback](ctx, s.kv, KindFeedback.Prefix(), KindFeedback)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out, func(f domain.Feedback) (int64, string) { return f.CreatedAt, f.ID })
	return out, nil
}

func (s *Store) DeleteFeedback(ctx context.Context, id string) error {
	if err := checkKind(id, KindFeedback); err != nil {
		return err
	}
	return s.kv.Del(ctx, id)
}

// ratings

// SetRating overwrites the rating of (r.BookID, r.UserID).
func (s *Store) SetRating(ctx context.Context, r domain.Rating) error {
	if strings.Contains(r.BookID, ":") {
		return fmt.Errorf("%w: book id %q contains ':'", domain.ErrInvalidRecord, r.BookID)
	}
	return putRecord(ctx, s.kv, RatingKey(r.BookID, r.UserID), KindRating, r)
}

func (s *Store) GetRating(ctx context.Context, bookID, userID string) (domain.Rating, bool, error) {
	return getRecord[domain.Rating](ctx, s.kv, RatingKey(bookID, userID), KindRating)
}

func (s *Store) ListRatings(ctx context.Context) ([]domain.Rating, error) {
	return listValues[domain.Rating](ctx, s.kv, KindRating.Prefix(), KindRating)
}

// admin tokens

// AdminTokenEntry pairs a token with its stored state.
type AdminTokenEntry struct {
	Token string
	domain.AdminToken
}

func (s *Store) SaveAdminToken(ctx context.Context, token string, t domain.AdminToken) error {
	return putRecord(ctx, s.kv, AdminTokenKey(token), KindAdminToken, t)
}

func (s *Store) GetAdminToken(ctx context.Context, token string) (domain.AdminToken, bool, error) {
	return getRecord[domain.AdminToken](ctx, s.kv, AdminTokenKey(token), KindAdminToken)
}

func (s *Store) DeleteAdminToken(ctx context.Context, token string) error {
	return s.kv.Del(ctx, AdminTokenKey(token))
}

func (s *Store) ListAdminTokens(ctx context.Context) ([]AdminTokenEntry, error) {
	items, err := listRecords[domain.AdminToken](ctx, s.kv, KindAdminToken.Prefix(), KindAdminToken)
	if err != nil {
		return nil, err
	}
	out := make([]AdminTokenEntry, 0, len(items))
	for _, item := range items {
		out = append(out, AdminTokenEntry{
			Token:      strings.TrimPrefix(item.Key, KindAdminToken.Prefix()),
			AdminToken: item.Record,
		})
	}
	return out, nil
}

// IsNotFound reports whether err means the record is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func listValues[T Record](ctx context.Context, s kv.Store, prefix string, kind Kind) ([]T, error) {
	items, err := listRecords[T](ctx, s, prefix, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, item.Record)
	}
	return out, nil
}

func sortNewestFirst[T any](items []T, by func(T) (int64, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := by(items[i])
		tj, idj := by(items[j])
		if ti != tj {
			return ti > tj
		}
		return idi > idj
	})
}

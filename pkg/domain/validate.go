package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRecord is wrapped by every Validate failure.
var ErrInvalidRecord = errors.New("invalid record")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Validate checks profile invariants: a login, unique favorites and a
// bounded, duplicate-free recent list.
func (u UserProfile) Validate() error {
	if blank(u.ID) {
		return invalid("user id required")
	}
	if blank(u.Login) {
		return invalid("user login required")
	}
	if hasDuplicates(u.Favorites) {
		return invalid("favorites contain duplicates")
	}
	if len(u.Recent) > MaxRecent {
		return invalid("recent exceeds %d entries", MaxRecent)
	}
	if hasDuplicates(u.Recent) {
		return invalid("recent contains duplicates")
	}
	return nil
}

func (a Account) Validate() error {
	if blank(a.UserID) || blank(a.Login) || blank(a.PasswordHash) {
		return invalid("account requires userId, login and passwordHash")
	}
	return nil
}

func (b Book) Validate() error {
	if blank(b.ID) {
		return invalid("book id required")
	}
	if blank(b.Title) || blank(b.Author) {
		return invalid("book title and author required")
	}
	return nil
}

func (c Comment) Validate() error {
	if blank(c.ID) || blank(c.BookID) || blank(c.UserID) {
		return invalid("comment requires id, bookId and userId")
	}
	if blank(c.Text) {
		return invalid("comment text required")
	}
	return nil
}

func (f Feedback) Validate() error {
	if blank(f.ID) {
		return invalid("feedback id required")
	}
	if blank(f.Name) || blank(f.Email) || blank(f.Message) {
		return invalid("feedback requires name, email and message")
	}
	return nil
}

func (r Rating) Validate() error {
	if blank(r.BookID) || blank(r.UserID) {
		return invalid("rating requires bookId and userId")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return invalid("rating must be between 1 and 5")
	}
	return nil
}

func (t AdminToken) Validate() error {
	if t.ExpiresAt < t.CreatedAt {
		return invalid("admin token expires before it was created")
	}
	return nil
}

func hasDuplicates(items []string) bool {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			return true
		}
		seen[item] = struct{}{}
	}
	return false
}

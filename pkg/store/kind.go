package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/abdulaziz-uzb777/library-project/internal/util"
)

// Kind identifies the entity type of a record. It is the first segment of
// every key.
type Kind string

const (
	KindUser       Kind = "user"
	KindAccount    Kind = "account"
	KindBook       Kind = "book"
	KindComment    Kind = "comment"
	KindFeedback   Kind = "feedback"
	KindRating     Kind = "rating"
	KindAdminToken Kind = "admin_token"
)

var knownKinds = map[Kind]struct{}{
	KindUser:       {},
	KindAccount:    {},
	KindBook:       {},
	KindComment:    {},
	KindFeedback:   {},
	KindRating:     {},
	KindAdminToken: {},
}

// Prefix returns the scan prefix covering every record of the kind.
func (k Kind) Prefix() string { return string(k) + ":" }

// Key joins parts under the kind prefix.
func (k Kind) Key(parts ...string) string {
	return k.Prefix() + strings.Join(parts, ":")
}

// KindOf returns the kind encoded in key.
func KindOf(key string) (Kind, bool) {
	head, _, found := strings.Cut(key, ":")
	if !found {
		return "", false
	}
	k := Kind(head)
	if _, ok := knownKinds[k]; !ok {
		return "", false
	}
	return k, true
}

func UserKey(id string) string {
	return KindUser.Key(id)
}

func AccountKey(login string) string {
	return KindAccount.Key(strings.ToLower(login))
}

func BookKey(id string) string {
	return KindBook.Key(id)
}

func CommentPrefix(bookID string) string {
	return KindComment.Key(bookID) + ":"
}

func RatingKey(bookID, userID string) string {
	return KindRating.Key(bookID, userID)
}

func AdminTokenKey(token string) string {
	return KindAdminToken.Key(token)
}

// NewBookID returns "book_<unixMillis>_<random>".
func NewBookID(now time.Time) string {
	return fmt.Sprintf("book_%d_%s", now.UnixMilli(), util.RandomHex(3))
}

// NewCommentKey returns a comment key that sorts by creation time.
func NewCommentKey(bookID string, now time.Time) string {
	return CommentPrefix(bookID) + stamp(now)
}

// NewFeedbackKey returns a feedback key that sorts by creation time.
func NewFeedbackKey(now time.Time) string {
	return KindFeedback.Key(stamp(now))
}

func stamp(now time.Time) string {
	return fmt.Sprintf("%013d-%s", now.UnixMilli(), util.RandomHex(3))
}

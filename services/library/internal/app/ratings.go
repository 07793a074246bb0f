package app

import (
	"context"
	"sort"
	"strings"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
)

// RateBook records the reader's rating for a book, replacing any earlier one.
func (a *App) RateBook(ctx context.Context, userID, bookID string, rating float64) (int, error) {
	if rating < 1 || rating > 5 || rating != float64(int(rating)) {
		return 0, badRequest("Rating must be between 1 and 5")
	}
	bookID = strings.TrimSpace(bookID)
	if bookID == "" || strings.Contains(bookID, ":") {
		return 0, badRequest("invalid book id")
	}
	r := domain.Rating{
		Rating:    int(rating),
		BookID:    bookID,
		UserID:    userID,
		CreatedAt: a.now().UnixMilli(),
	}
	if err := a.store.SetRating(ctx, r); err != nil {
		return 0, err
	}
	return r.Rating, nil
}

// MyRating returns the reader's rating for a book, or nil when none exists.
func (a *App) MyRating(ctx context.Context, userID, bookID string) (*int, error) {
	r, ok, err := a.store.GetRating(ctx, bookID, userID)
	if err != nil || !ok {
		return nil, err
	}
	v := r.Rating
	return &v, nil
}

// RatingStats aggregates every stored rating per book.
func (a *App) RatingStats(ctx context.Context) ([]domain.BookRating, error) {
	ratings, err := a.store.ListRatings(ctx)
	if err != nil {
		return nil, err
	}
	return aggregateRatings(ratings), nil
}

// aggregateRatings averages ratings per book. Books without ratings do not
// appear; the result is ordered by book id.
func aggregateRatings(ratings []domain.Rating) []domain.BookRating {
	type acc struct{ sum, count int }
	byBook := make(map[string]*acc)
	for _, r := range ratings {
		if r.BookID == "" || r.Rating < 1 || r.Rating > 5 {
			continue
		}
		s, ok := byBook[r.BookID]
		if !ok {
			s = &acc{}
			byBook[r.BookID] = s
		}
		s.sum += r.Rating
		s.count++
	}
	out := make([]domain.BookRating, 0, len(byBook))
	for bookID, s := range byBook {
		out = append(out, domain.BookRating{
			BookID:        bookID,
			AverageRating: float64(s.sum) / float64(s.count),
			TotalRatings:  s.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookID < out[j].BookID })
	return out
}

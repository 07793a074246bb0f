package app

import (
	"context"
	"errors"
	"strings"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

// AddFavorite adds bookID to the reader's favorites; present ids are left
// alone.
func (a *App) AddFavorite(ctx context.Context, userID, bookID string) ([]string, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, badRequest("bookId is required")
	}
	p, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) {
		p.Favorites = addFavorite(p.Favorites, bookID)
	})
	if err != nil {
		return nil, err
	}
	return p.Favorites, nil
}

// RemoveFavorite drops bookID from the reader's favorites.
func (a *App) RemoveFavorite(ctx context.Context, userID, bookID string) ([]string, error) {
	p, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) {
		p.Favorites = removeFavorite(p.Favorites, bookID)
	})
	if err != nil {
		return nil, err
	}
	return p.Favorites, nil
}

// AddRecent moves bookID to the front of the recently viewed list.
func (a *App) AddRecent(ctx context.Context, userID, bookID string) ([]string, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, badRequest("bookId is required")
	}
	p, err := a.updateProfile(ctx, userID, func(p *domain.UserProfile) {
		p.Recent = pushRecent(p.Recent, bookID, domain.MaxRecent)
	})
	if err != nil {
		return nil, err
	}
	return p.Recent, nil
}

func (a *App) updateProfile(ctx context.Context, userID string, mutate func(*domain.UserProfile)) (domain.UserProfile, error) {
	p, err := a.store.UpdateUser(ctx, userID, func(p *domain.UserProfile) error {
		*p = withLists(*p)
		mutate(p)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserProfile{}, ErrProfileNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	return p, nil
}

func addFavorite(favorites []string, bookID string) []string {
	for _, id := range favorites {
		if id == bookID {
			return favorites
		}
	}
	return append(favorites, bookID)
}

func removeFavorite(favorites []string, bookID string) []string {
	out := make([]string, 0, len(favorites))
	for _, id := range favorites {
		if id != bookID {
			out = append(out, id)
		}
	}
	return out
}

// pushRecent returns recent with bookID first, without duplicates and at
// most limit entries long.
func pushRecent(recent []string, bookID string, limit int) []string {
	out := make([]string, 0, min(len(recent)+1, limit))
	out = append(out, bookID)
	for _, id := range recent {
		if len(out) == limit {
			break
		}
		if id != bookID {
			out = append(out, id)
		}
	}
	return out
}

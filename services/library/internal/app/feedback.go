package app

import (
	"context"
	"errors"
	"strings"

	"github.com/abdulaziz-uzb777/library-project/pkg/domain"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
)

// FeedbackInput is the contact form.
type FeedbackInput struct {
	Name    string
	Email   string
	Message string
}

// SubmitFeedback stores an anonymous contact-form message.
func (a *App) SubmitFeedback(ctx context.Context, in FeedbackInput) (domain.Feedback, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	message := strings.TrimSpace(in.Message)
	if name == "" || email == "" || message == "" {
		return domain.Feedback{}, badRequest("All fields are required")
	}
	now := a.now()
	f := domain.Feedback{
		ID:        store.NewFeedbackKey(now),
		Name:      name,
		Email:     email,
		Message:   message,
		CreatedAt: now.UnixMilli(),
	}
	if err := a.store.SaveFeedback(ctx, f); err != nil {
		return domain.Feedback{}, err
	}
	return f, nil
}

// ListFeedback returns every message, newest first.
func (a *App) ListFeedback(ctx context.Context) ([]domain.Feedback, error) {
	return a.store.ListFeedback(ctx)
}

// DeleteFeedback removes a message by its id.
func (a *App) DeleteFeedback(ctx context.Context, id string) error {
	if err := a.store.DeleteFeedback(ctx, id); err != nil {
		if errors.Is(err, store.ErrKindMismatch) {
			return ErrFeedbackNotFound
		}
		return err
	}
	return nil
}

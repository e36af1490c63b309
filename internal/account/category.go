package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
	"github.com/gerenciadorbet/ledger-engine/internal/notify"
)

// AddCategory creates a bet category. Names are unique per user, ignoring
// case.
func (s *Service) AddCategory(ctx context.Context, userID, name string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, fmt.Errorf("%w: name is required", ErrValidation)
	}

	var c model.Category
	_, err := s.mutate(ctx, "add_category", userID, func(ss *session) error {
		for _, existing := range ss.ledger.Categories {
			if strings.EqualFold(existing.Name, name) {
				return fmt.Errorf("%w: category %q already exists", ErrValidation, name)
			}
		}
		c = model.Category{ID: uuid.New().String(), UserID: userID, Name: name}
		ss.ledger.Categories = append(ss.ledger.Categories, c)
		return nil
	})
	if err != nil {
		return model.Category{}, err
	}
	return c, nil
}

// ListCategories returns the user's categories in creation order.
func (s *Service) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]model.Category{}, l.Categories...), nil
}

// DeleteCategory removes a category. Bets keep their category id.
func (s *Service) DeleteCategory(ctx context.Context, userID, categoryID string) error {
	_, err := s.mutate(ctx, "delete_category", userID, func(ss *session) error {
		cs := ss.ledger.Categories
		for i := range cs {
			if cs[i].ID == categoryID {
				ss.ledger.Categories = append(cs[:i], cs[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: category %s", ErrNotFound, categoryID)
	})
	return err
}

// ListNotifications returns the user's notifications, most recent first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]model.Notification, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]model.Notification{}, l.Notifications...), nil
}

// MarkNotificationRead flags one notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	_, err := s.mutate(ctx, "mark_notification_read", userID, func(ss *session) error {
		if err := notify.MarkRead(ss.ledger, notificationID); err != nil {
			if errors.Is(err, notify.ErrNotFound) {
				return fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
			}
			return err
		}
		return nil
	})
	return err
}

// ClearNotifications removes all of the user's notifications.
func (s *Service) ClearNotifications(ctx context.Context, userID string) error {
	_, err := s.mutate(ctx, "clear_notifications", userID, func(ss *session) error {
		notify.Clear(ss.ledger)
		return nil
	})
	return err
}

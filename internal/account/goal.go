package account

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gerenciadorbet/ledger-engine/internal/goals"
	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

// GoalInput is the caller-supplied part of a goal.
type GoalInput struct {
	Type        model.GoalType  `json:"type"`
	Description string          `json:"description"`
	TargetValue decimal.Decimal `json:"target_value"`
	Period      time.Time       `json:"period"`
}

// Validate checks the input.
func (in GoalInput) Validate() error {
	var problems []string
	if !in.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown goal type %q", in.Type))
	}
	if !in.TargetValue.IsPositive() {
		problems = append(problems, "target_value must be positive")
	}
	if in.Period.IsZero() {
		problems = append(problems, "period is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// AddGoal creates a goal and computes its progress right away.
func (s *Service) AddGoal(ctx context.Context, userID string, in GoalInput) (model.Goal, error) {
	if err := in.Validate(); err != nil {
		return model.Goal{}, err
	}

	var id string
	l, err := s.mutate(ctx, "add_goal", userID, func(ss *session) error {
		id = uuid.New().String()
		ss.ledger.Goals = append(ss.ledger.Goals, model.Goal{
			ID:          id,
			UserID:      userID,
			Type:        in.Type,
			Description: in.Description,
			TargetValue: in.TargetValue,
			Period:      in.Period,
		})
		return s.refreshGoals(ss)
	})
	if err != nil {
		return model.Goal{}, err
	}
	g, _ := findGoal(l.Goals, id)
	return g, nil
}

// UpdateGoal replaces a goal's definition and recomputes it. Moving the goal
// to a different window (type or period) starts it over: completion is
// cleared and re-evaluated against the new window. Changing only the
// description or target keeps an earlier completion and its CompletedAt.
func (s *Service) UpdateGoal(ctx context.Context, userID, goalID string, in GoalInput) (model.Goal, error) {
	if err := in.Validate(); err != nil {
		return model.Goal{}, err
	}

	l, err := s.mutate(ctx, "update_goal", userID, func(ss *session) error {
		i := indexOfGoal(ss.ledger.Goals, goalID)
		if i < 0 {
			return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
		}
		g := &ss.ledger.Goals[i]
		if s.windowChanged(*g, in) {
			g.Completed = false
			g.CompletedAt = nil
		}
		g.Type = in.Type
		g.Description = in.Description
		g.TargetValue = in.TargetValue
		g.Period = in.Period
		return s.refreshGoals(ss)
	})
	if err != nil {
		return model.Goal{}, err
	}
	g, _ := findGoal(l.Goals, goalID)
	return g, nil
}

// DeleteGoal removes a goal.
func (s *Service) DeleteGoal(ctx context.Context, userID, goalID string) error {
	_, err := s.mutate(ctx, "delete_goal", userID, func(ss *session) error {
		i := indexOfGoal(ss.ledger.Goals, goalID)
		if i < 0 {
			return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
		}
		ss.ledger.Goals = append(ss.ledger.Goals[:i], ss.ledger.Goals[i+1:]...)
		return nil
	})
	return err
}

// ListGoals returns the user's goals in creation order.
func (s *Service) ListGoals(ctx context.Context, userID string) ([]model.Goal, error) {
	l, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]model.Goal{}, l.Goals...), nil
}

func (s *Service) windowChanged(g model.Goal, in GoalInput) bool {
	if g.Type != in.Type {
		return true
	}
	oldStart, _, err := goals.Window(g.Type, g.Period, s.loc)
	if err != nil {
		return true
	}
	newStart, _, err := goals.Window(in.Type, in.Period, s.loc)
	if err != nil {
		return true
	}
	return !oldStart.Equal(newStart)
}

func indexOfGoal(gs []model.Goal, id string) int {
	for i := range gs {
		if gs[i].ID == id {
			return i
		}
	}
	return -1
}

func findGoal(gs []model.Goal, id string) (model.Goal, bool) {
	if i := indexOfGoal(gs, id); i >= 0 {
		return gs[i], true
	}
	return model.Goal{}, false
}

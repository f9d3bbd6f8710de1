/*
Package achievements evaluates reward criteria against account aggregates
and grants achievements idempotently.

PURPOSE:
  An achievement is earned at most once per account. Two evaluations can run
  concurrently for the same account (two near-simultaneous reward events
  both trigger a follow-up sweep); correctness does not depend on preventing
  that. The grant insert carries a UNIQUE(account, achievement) constraint,
  and losing that race is the expected "someone else already granted it"
  signal - skipped silently, never an error.

TRANSACTION SHAPE:
  Each grant commits in its own transaction together with its reward ledger
  entry (when the reward is nonzero). A partially-applied grant - row
  without reward, or reward without row - cannot be observed.
*/
package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/ledger"
)

// Engine grants achievements against the store.
type Engine struct {
	Store civic.Store
}

func NewEngine(store civic.Store) *Engine {
	return &Engine{Store: store}
}

// EvaluateAndGrant checks every active achievement the account does not yet
// hold against the account's current aggregates, grants the satisfied ones,
// and returns the grants newly made by THIS call. An achievement lost to a
// concurrent evaluator is skipped and evaluation continues.
func (e *Engine) EvaluateAndGrant(ctx context.Context, account civic.AccountID) ([]civic.AchievementGrant, error) {
	stats, err := e.Store.AccountStats(ctx, account)
	if err != nil {
		return nil, err
	}

	defs, err := e.Store.ListAchievements(ctx, true)
	if err != nil {
		return nil, err
	}

	existing, err := e.Store.GrantsForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	held := make(map[civic.AchievementID]bool, len(existing))
	for _, g := range existing {
		held[g.AchievementID] = true
	}

	var granted []civic.AchievementGrant
	for _, def := range defs {
		if held[def.ID] || !def.Criterion.Satisfied(*stats) {
			continue
		}

		grant := civic.AchievementGrant{
			ID:            uuid.NewString(),
			AccountID:     account,
			AchievementID: def.ID,
			EarnedAt:      time.Now().UTC(),
		}
		err := e.Store.WithTx(ctx, func(tx civic.Store) error {
			if err := tx.InsertGrant(ctx, grant); err != nil {
				return err
			}
			if def.PointsReward == 0 {
				return nil
			}
			return ledger.Record(ctx, tx, civic.LedgerEntry{
				AccountID:   account,
				Points:      def.PointsReward,
				Kind:        civic.KindAchievement,
				Description: fmt.Sprintf("Achievement unlocked: %s", def.Name),
			})
		})
		if errors.Is(err, civic.ErrDuplicateGrant) {
			continue // a concurrent evaluation won; already granted once
		}
		if err != nil {
			return granted, err
		}
		granted = append(granted, grant)

		// A nonzero reward moves the account's point total, which later
		// points_earned criteria in this same pass evaluate against.
		if def.PointsReward > 0 {
			stats, err = e.Store.AccountStats(ctx, account)
			if err != nil {
				return granted, err
			}
		}
	}
	return granted, nil
}

// Define registers a new achievement definition.
func (e *Engine) Define(ctx context.Context, a civic.Achievement) (*civic.Achievement, error) {
	switch a.Criterion.Kind {
	case civic.CriterionIssuesReported, civic.CriterionPointsEarned, civic.CriterionIssuesResolved:
	default:
		return nil, fmt.Errorf("achievements: unknown criterion kind %q", a.Criterion.Kind)
	}
	if a.Criterion.Target <= 0 {
		return nil, fmt.Errorf("achievements: criterion target must be positive, got %d", a.Criterion.Target)
	}
	if a.ID == "" {
		a.ID = civic.AchievementID(uuid.NewString())
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if err := e.Store.SaveAchievement(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

/*
scheduler.go - Periodic achievement sweep

PURPOSE:
  Inline evaluation after issue/upvote/resolution commits covers the hot
  paths, but milestones can also be crossed by paths with no inline hook
  (backfills, bulk imports, a newly defined achievement that existing
  accounts already qualify for). The sweep walks every account on a cron
  schedule and lets the rule engine catch up.

IDEMPOTENCE:
  Sweeping is safe to run at any frequency: the grant table's uniqueness
  constraint makes re-evaluation a no-op for everything already earned.

CONFIGURATION:
  - Schedule: cron expression (default "@every 5m")
  - Enabled: whether the sweep runs at all

USAGE:
  sweeper := NewAchievementSweeper(store, handler.Engine, log)
  if err := sweeper.Start("@every 5m"); err != nil { ... }
  // ... later
  sweeper.Stop()

SEE ALSO:
  - achievements/engine.go: EvaluateAndGrant
  - handlers.go: EvaluateAccount (manual, per-account)
*/
package api

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fixmycity/civic-engine/achievements"
	"github.com/fixmycity/civic-engine/civic"
	"github.com/fixmycity/civic-engine/metrics"
)

// AchievementSweeper periodically re-evaluates every account.
type AchievementSweeper struct {
	Store  civic.Store
	Engine *achievements.Engine
	Log    *logrus.Logger

	cron *cron.Cron
}

// NewAchievementSweeper creates a sweeper. Start must be called to schedule it.
func NewAchievementSweeper(store civic.Store, engine *achievements.Engine, log *logrus.Logger) *AchievementSweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AchievementSweeper{
		Store:  store,
		Engine: engine,
		Log:    log,
	}
}

// Start schedules the sweep with the given cron expression and runs one
// sweep immediately.
func (s *AchievementSweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.Log.WithField("schedule", schedule).Info("achievement sweep scheduled")

	go s.Sweep()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *AchievementSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("achievement sweep stopped")
}

// Sweep evaluates every account once. Errors on one account are logged and
// do not stop the sweep.
func (s *AchievementSweeper) Sweep() {
	ctx := context.Background()

	accounts, err := s.Store.ListAccounts(ctx)
	if err != nil {
		s.Log.WithError(err).Error("sweep: failed to list accounts")
		return
	}

	var granted int
	for _, a := range accounts {
		grants, err := s.Engine.EvaluateAndGrant(ctx, a.ID)
		if err != nil {
			s.Log.WithError(err).WithField("account", a.ID).
				Warn("sweep: evaluation failed")
			continue
		}
		for _, g := range grants {
			metrics.AchievementsGranted.WithLabelValues(string(g.AchievementID)).Inc()
		}
		granted += len(grants)
	}

	if granted > 0 {
		s.Log.WithFields(logrus.Fields{
			"accounts": len(accounts),
			"granted":  granted,
		}).Info("sweep: granted missed achievements")
	}
}

/*
Package notify delivers best-effort notifications for gamification events.

Delivery is strictly fire-and-forget from the caller's point of view: the
points and grants are already committed by the time a notifier runs, so a
delivery failure is logged and never unwinds the transaction that caused it.
*/
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fixmycity/civic-engine/civic"
)

// Notifier receives gamification events after they commit.
type Notifier interface {
	PointsAwarded(ctx context.Context, account civic.AccountID, entry civic.LedgerEntry) error
	AchievementEarned(ctx context.Context, account civic.AccountID, a civic.Achievement) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// the push/email channel in development and in tests.
type LogNotifier struct {
	Log *logrus.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) PointsAwarded(_ context.Context, account civic.AccountID, entry civic.LedgerEntry) error {
	n.Log.WithFields(logrus.Fields{
		"account": account,
		"points":  entry.Points,
		"kind":    entry.Kind,
	}).Info("points awarded")
	return nil
}

func (n *LogNotifier) AchievementEarned(_ context.Context, account civic.AccountID, a civic.Achievement) error {
	n.Log.WithFields(logrus.Fields{
		"account":     account,
		"achievement": a.ID,
		"reward":      a.PointsReward,
	}).Info("achievement earned")
	return nil
}

// Noop discards all notifications.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) PointsAwarded(context.Context, civic.AccountID, civic.LedgerEntry) error { return nil }
func (Noop) AchievementEarned(context.Context, civic.AccountID, civic.Achievement) error {
	return nil
}

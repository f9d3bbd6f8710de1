/*
seed.go - Default achievement catalog

Seeds the shipped achievement set when the database is empty. Idempotent:
a non-empty catalog is left alone, so operator edits survive restarts.
*/
package achievements

import (
	"context"

	"github.com/fixmycity/civic-engine/civic"
)

// DefaultCatalog returns the shipped achievement definitions.
func DefaultCatalog() []civic.Achievement {
	return []civic.Achievement{
		{
			ID:           "first-report",
			Name:         "First Report",
			Description:  "Report your first civic issue",
			PointsReward: 10,
			Criterion:    civic.Criterion{Kind: civic.CriterionIssuesReported, Target: 1},
			Active:       true,
		},
		{
			ID:           "neighborhood-watch",
			Name:         "Neighborhood Watch",
			Description:  "Report 10 civic issues",
			PointsReward: 50,
			Criterion:    civic.Criterion{Kind: civic.CriterionIssuesReported, Target: 10},
			Active:       true,
		},
		{
			ID:           "city-guardian",
			Name:         "City Guardian",
			Description:  "Report 50 civic issues",
			PointsReward: 200,
			Criterion:    civic.Criterion{Kind: civic.CriterionIssuesReported, Target: 50},
			Active:       true,
		},
		{
			ID:           "century-club",
			Name:         "Century Club",
			Description:  "Earn 100 points",
			PointsReward: 25,
			Criterion:    civic.Criterion{Kind: civic.CriterionPointsEarned, Target: 100},
			Active:       true,
		},
		{
			ID:           "problem-solver",
			Name:         "Problem Solver",
			Description:  "Have 5 of your reported issues resolved",
			PointsReward: 100,
			Criterion:    civic.Criterion{Kind: civic.CriterionIssuesResolved, Target: 5},
			Active:       true,
		},
	}
}

// Seed installs the default catalog if no achievements exist yet.
func Seed(ctx context.Context, store civic.Store) error {
	existing, err := store.ListAchievements(ctx, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, a := range DefaultCatalog() {
		if err := store.SaveAchievement(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

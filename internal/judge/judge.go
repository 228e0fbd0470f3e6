// Package judge talks to the external problem-judging service. The battle
// engine only depends on the Service interface so tests can substitute a fake.
package judge

import (
	"context"
	"time"

	"github.com/codeclash/codeclash-server/internal/domain"
)

type Service interface {
	// UnsolvedProblem picks a problem at the given rating, matching the topic
	// filters, that none of the handles has solved before.
	UnsolvedProblem(ctx context.Context, handles []string, rating int, topics []string) (*domain.Problem, error)

	// Solved reports whether the handle has an accepted submission for the
	// problem made at or after the given time.
	Solved(ctx context.Context, handle string, contestID int, index string, since time.Time) (bool, error)
}

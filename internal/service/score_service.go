package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/repository"
)

// Score deltas per battle outcome.
const (
	ScoreWin  = 10
	ScoreLoss = 2
	ScoreDraw = 5
)

// ScoreService applies score updates when battles resolve. It satisfies the
// battle engine's ScoreKeeper.
type ScoreService struct {
	userRepo repository.UserRepository
}

func NewScoreService(userRepo repository.UserRepository) *ScoreService {
	return &ScoreService{userRepo: userRepo}
}

// ApplyResult awards every participant according to the battle's outcome: the
// winner gets the win delta and everyone else the loss delta; a draw awards
// the draw delta to all. Per-user failures are logged and do not prevent the
// remaining updates.
func (s *ScoreService) ApplyResult(ctx context.Context, battle *domain.Battle) error {
	var firstErr error
	for _, p := range battle.Participants {
		delta := ScoreDraw
		if battle.Status == domain.BattleStatusFinished && battle.Winner != nil {
			if p.UserID == battle.Winner.UserID {
				delta = ScoreWin
			} else {
				delta = ScoreLoss
			}
		}

		if err := s.userRepo.AddScore(ctx, p.UserID, delta); err != nil {
			log.Error().Err(err).
				Str("username", p.Username).
				Int("delta", delta).
				Msg("failed to apply score")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

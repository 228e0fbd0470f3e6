package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/service"
)

// scoreRecorderRepo records AddScore calls; the rest of UserRepository is
// unused by the score service.
type scoreRecorderRepo struct {
	mu     sync.Mutex
	deltas map[uuid.UUID]int
}

func newScoreRecorderRepo() *scoreRecorderRepo {
	return &scoreRecorderRepo{deltas: make(map[uuid.UUID]int)}
}

func (r *scoreRecorderRepo) AddScore(ctx context.Context, id uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas[id] += delta
	return nil
}

func (r *scoreRecorderRepo) Create(ctx context.Context, user *domain.User) error { return nil }
func (r *scoreRecorderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, service.ErrUserNotFound
}
func (r *scoreRecorderRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return nil, service.ErrUserNotFound
}
func (r *scoreRecorderRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return nil, service.ErrUserNotFound
}
func (r *scoreRecorderRepo) Update(ctx context.Context, user *domain.User) error { return nil }
func (r *scoreRecorderRepo) Leaderboard(ctx context.Context, limit int) ([]*domain.User, error) {
	return nil, nil
}

func finishedBattle(winner, loser uuid.UUID) *domain.Battle {
	b := &domain.Battle{ID: uuid.New(), Mode: domain.ModeDuo, Status: domain.BattleStatusFinished}
	b.AddParticipant(winner, "winner", "cf_winner")
	b.AddParticipant(loser, "loser", "cf_loser")
	b.Winner = &domain.Winner{UserID: winner, Username: "winner", Handle: "cf_winner"}
	return b
}

func TestScoreService_WinnerAndLoser(t *testing.T) {
	repo := newScoreRecorderRepo()
	svc := service.NewScoreService(repo)

	winner := uuid.New()
	loser := uuid.New()

	require.NoError(t, svc.ApplyResult(context.Background(), finishedBattle(winner, loser)))

	assert.Equal(t, service.ScoreWin, repo.deltas[winner])
	assert.Equal(t, service.ScoreLoss, repo.deltas[loser])
}

func TestScoreService_Draw(t *testing.T) {
	repo := newScoreRecorderRepo()
	svc := service.NewScoreService(repo)

	alice := uuid.New()
	bob := uuid.New()
	b := &domain.Battle{ID: uuid.New(), Mode: domain.ModeDuo, Status: domain.BattleStatusDraw}
	b.AddParticipant(alice, "alice", "cf_alice")
	b.AddParticipant(bob, "bob", "cf_bob")

	require.NoError(t, svc.ApplyResult(context.Background(), b))

	assert.Equal(t, service.ScoreDraw, repo.deltas[alice])
	assert.Equal(t, service.ScoreDraw, repo.deltas[bob])
}

func TestScoreService_SquadForfeit(t *testing.T) {
	repo := newScoreRecorderRepo()
	svc := service.NewScoreService(repo)

	winner := uuid.New()
	others := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	b := &domain.Battle{ID: uuid.New(), Mode: domain.ModeSquad, Status: domain.BattleStatusFinished}
	b.AddParticipant(winner, "winner", "cf_winner")
	for i, id := range others {
		b.AddParticipant(id, "player", "cf_player"+string(rune('0'+i)))
	}
	b.Winner = &domain.Winner{UserID: winner, Username: "winner", Handle: "cf_winner"}

	require.NoError(t, svc.ApplyResult(context.Background(), b))

	assert.Equal(t, service.ScoreWin, repo.deltas[winner])
	for _, id := range others {
		assert.Equal(t, service.ScoreLoss, repo.deltas[id])
	}
}

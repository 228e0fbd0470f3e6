package battle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/repository"
)

// memBattleRepo is an in-memory BattleRepository for engine tests.
type memBattleRepo struct {
	mu      sync.Mutex
	battles map[string]*domain.Battle
}

func newMemBattleRepo() *memBattleRepo {
	return &memBattleRepo{battles: make(map[string]*domain.Battle)}
}

func copyBattle(b *domain.Battle) *domain.Battle {
	cp := *b
	cp.Participants = append([]domain.Participant(nil), b.Participants...)
	return &cp
}

func (r *memBattleRepo) Create(ctx context.Context, b *domain.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battles[b.RoomID] = copyBattle(b)
	return nil
}

func (r *memBattleRepo) GetByRoomID(ctx context.Context, roomID string) (*domain.Battle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.battles[roomID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	return copyBattle(b), nil
}

func (r *memBattleRepo) Update(ctx context.Context, b *domain.Battle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.battles[b.RoomID]
	if !ok {
		return domain.ErrBattleNotFound
	}
	cp := copyBattle(b)
	cp.Participants = stored.Participants
	r.battles[b.RoomID] = cp
	return nil
}

func (r *memBattleRepo) Delete(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.battles[roomID]; !ok {
		return domain.ErrBattleNotFound
	}
	delete(r.battles, roomID)
	return nil
}

func (r *memBattleRepo) AddParticipant(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.battles {
		if b.ID == p.BattleID {
			b.Participants = append(b.Participants, *p)
			return nil
		}
	}
	return domain.ErrBattleNotFound
}

func (r *memBattleRepo) RemoveParticipant(ctx context.Context, battleID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.battles {
		if b.ID != battleID {
			continue
		}
		kept := b.Participants[:0]
		for _, p := range b.Participants {
			if p.UserID != userID {
				kept = append(kept, p)
			}
		}
		b.Participants = kept
		return nil
	}
	return domain.ErrBattleNotFound
}

func (r *memBattleRepo) ListOpen(ctx context.Context) ([]*domain.Battle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Battle
	for _, b := range r.battles {
		if b.Status == domain.BattleStatusWaiting || b.Status == domain.BattleStatusActive {
			out = append(out, copyBattle(b))
		}
	}
	return out, nil
}

func (r *memBattleRepo) ListFinishedByUser(ctx context.Context, userID uuid.UUID, filter repository.HistoryFilter, limit int) ([]*domain.Battle, error) {
	return nil, nil
}

// fakeJudge returns a canned problem and lets tests flip per-handle solves.
type fakeJudge struct {
	mu         sync.Mutex
	problem    *domain.Problem
	problemErr error
	solved     map[string]bool
	solveErr   error
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{
		problem: &domain.Problem{
			ContestID: 1842,
			Index:     "C",
			Name:      "Tenzing and Balls",
			Rating:    1400,
			URL:       "https://codeforces.com/problemset/problem/1842/C",
		},
		solved: make(map[string]bool),
	}
}

func (j *fakeJudge) UnsolvedProblem(ctx context.Context, handles []string, rating int, topics []string) (*domain.Problem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.problemErr != nil {
		return nil, j.problemErr
	}
	return j.problem, nil
}

func (j *fakeJudge) Solved(ctx context.Context, handle string, contestID int, index string, since time.Time) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.solveErr != nil {
		return false, j.solveErr
	}
	return j.solved[handle], nil
}

func (j *fakeJudge) markSolved(handle string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.solved[handle] = true
}

// recorderGateway captures every emitted event.
type recorderGateway struct {
	mu     sync.Mutex
	events []battle.Event
}

func (g *recorderGateway) record(e battle.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, e)
}

func (g *recorderGateway) ToRoom(roomID string, e battle.Event)  { g.record(e) }
func (g *recorderGateway) ToUser(id uuid.UUID, e battle.Event)   { g.record(e) }
func (g *recorderGateway) All(e battle.Event)                    { g.record(e) }
func (g *recorderGateway) Subscribe(id uuid.UUID, room string)   {}
func (g *recorderGateway) Unsubscribe(id uuid.UUID, room string) {}
func (g *recorderGateway) CloseRoom(roomID, reason string) {
	g.record(battle.Event{Type: battle.EventRoomClosed})
}

func (g *recorderGateway) count(eventType string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// fakeScores counts resolution score applications.
type fakeScores struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeScores) ApplyResult(ctx context.Context, b *domain.Battle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *fakeScores) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type engineFixture struct {
	engine  *battle.Engine
	repo    *memBattleRepo
	judge   *fakeJudge
	gateway *recorderGateway
	scores  *fakeScores
	clock   *clockwork.FakeClock
	cfg     battle.Config
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		repo:    newMemBattleRepo(),
		judge:   newFakeJudge(),
		gateway: &recorderGateway{},
		scores:  &fakeScores{},
		clock:   clockwork.NewFakeClock(),
		cfg:     battle.DefaultConfig(),
	}
	f.engine = battle.NewEngine(f.cfg, f.repo, f.judge, f.scores, f.gateway, f.clock)
	return f
}

func (f *engineFixture) createDuo(t *testing.T, username, handle string) (*domain.Battle, uuid.UUID) {
	t.Helper()

	userID := uuid.New()
	b, err := f.engine.CreateBattle(context.Background(), battle.CreateBattleInput{
		Mode:     domain.ModeDuo,
		Duration: 15,
		Rating:   1400,
		UserID:   userID,
		Username: username,
		Handle:   handle,
	})
	require.NoError(t, err)
	return b, userID
}

// activeDuo creates a duo battle, joins a second player, and advances through
// the start grace so the battle is running.
func (f *engineFixture) activeDuo(t *testing.T) (roomID string, alice, bob uuid.UUID) {
	t.Helper()

	b, aliceID := f.createDuo(t, "alice", "cf_alice")
	bobID := uuid.New()

	_, err := f.engine.JoinBattle(context.Background(), b.RoomID, bobID, "bob", "cf_bob")
	require.NoError(t, err)

	f.clock.Advance(f.cfg.StartGraceDelay)
	require.Eventually(t, func() bool {
		got, err := f.repo.GetByRoomID(context.Background(), b.RoomID)
		return err == nil && got.Status == domain.BattleStatusActive
	}, 2*time.Second, 10*time.Millisecond, "battle should activate after the grace delay")

	// Wait for the tick, poll, and deadline goroutines to arm.
	f.clock.BlockUntil(3)
	return b.RoomID, aliceID, bobID
}

func TestEngine_CreateBattle_Validation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   battle.CreateBattleInput
		wantErr error
	}{
		{
			name:    "invalid mode",
			input:   battle.CreateBattleInput{Mode: "raid", Duration: 15, Rating: 1400, Handle: "cf"},
			wantErr: domain.ErrInvalidMode,
		},
		{
			name:    "duration too short",
			input:   battle.CreateBattleInput{Mode: domain.ModeDuo, Duration: 1, Rating: 1400, Handle: "cf"},
			wantErr: domain.ErrInvalidDuration,
		},
		{
			name:    "duration too long",
			input:   battle.CreateBattleInput{Mode: domain.ModeDuo, Duration: 500, Rating: 1400, Handle: "cf"},
			wantErr: domain.ErrInvalidDuration,
		},
		{
			name:    "rating below range",
			input:   battle.CreateBattleInput{Mode: domain.ModeDuo, Duration: 15, Rating: 500, Handle: "cf"},
			wantErr: domain.ErrInvalidRating,
		},
		{
			name:    "missing handle",
			input:   battle.CreateBattleInput{Mode: domain.ModeDuo, Duration: 15, Rating: 1400},
			wantErr: domain.ErrHandleRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.UserID = uuid.New()
			tt.input.Username = "tester"
			_, err := f.engine.CreateBattle(ctx, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_CreateBattle(t *testing.T) {
	f := newEngineFixture(t)

	b, userID := f.createDuo(t, "alice", "cf_alice")

	assert.Len(t, b.RoomID, 6)
	assert.Equal(t, domain.BattleStatusWaiting, b.Status)
	assert.True(t, b.HasParticipant(userID))

	stored, err := f.repo.GetByRoomID(context.Background(), b.RoomID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, stored.ID)
}

func TestEngine_JoinBattle_FullAndDuplicate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	b, aliceID := f.createDuo(t, "alice", "cf_alice")

	// Duplicate join by the creator.
	_, err := f.engine.JoinBattle(ctx, b.RoomID, aliceID, "alice", "cf_alice")
	assert.ErrorIs(t, err, domain.ErrBattleFull)

	bobID := uuid.New()
	_, err = f.engine.JoinBattle(ctx, b.RoomID, bobID, "bob", "cf_bob")
	require.NoError(t, err)

	// Third player into a duo.
	_, err = f.engine.JoinBattle(ctx, b.RoomID, uuid.New(), "carol", "cf_carol")
	assert.ErrorIs(t, err, domain.ErrBattleFull)

	assert.Equal(t, 1, f.gateway.count(battle.EventReadyToStart))
}

func TestEngine_JoinBattle_NotFound(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.JoinBattle(context.Background(), "ZZZZZZ", uuid.New(), "bob", "cf_bob")
	assert.ErrorIs(t, err, domain.ErrBattleNotFound)
}

func TestEngine_Activation(t *testing.T) {
	f := newEngineFixture(t)

	roomID, _, _ := f.activeDuo(t)

	got, err := f.repo.GetByRoomID(context.Background(), roomID)
	require.NoError(t, err)
	require.NotNil(t, got.Problem)
	assert.Equal(t, "Tenzing and Balls", got.Problem.Name)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, got.StartTime.Add(15*time.Minute), *got.EndTime)
	assert.Equal(t, 1, f.gateway.count(battle.EventBattleStarted))
}

func TestEngine_SolvePoll_DeclaresWinner(t *testing.T) {
	f := newEngineFixture(t)

	roomID, _, bobID := f.activeDuo(t)
	f.judge.markSolved("cf_bob")

	f.clock.Advance(f.cfg.PollInterval)

	require.Eventually(t, func() bool {
		got, err := f.repo.GetByRoomID(context.Background(), roomID)
		return err == nil && got.Status == domain.BattleStatusFinished
	}, 2*time.Second, 10*time.Millisecond)

	got, err := f.repo.GetByRoomID(context.Background(), roomID)
	require.NoError(t, err)
	require.NotNil(t, got.Winner)
	assert.Equal(t, bobID, got.Winner.UserID)
	assert.Equal(t, 1, f.gateway.count(battle.EventBattleEnded))
	assert.Equal(t, 1, f.scores.callCount())
}

func TestEngine_Deadline_ResolvesDraw(t *testing.T) {
	f := newEngineFixture(t)

	roomID, _, _ := f.activeDuo(t)

	f.clock.Advance(15 * time.Minute)

	require.Eventually(t, func() bool {
		got, err := f.repo.GetByRoomID(context.Background(), roomID)
		return err == nil && got.Status == domain.BattleStatusDraw
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.gateway.count(battle.EventBattleDraw))
	assert.Equal(t, 0, f.gateway.count(battle.EventBattleEnded))
	assert.Equal(t, 1, f.scores.callCount())
}

func TestEngine_Resolve_Idempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	roomID, _, bobID := f.activeDuo(t)

	require.NoError(t, f.engine.Resolve(ctx, roomID, domain.BattleStatusFinished, &bobID, "solved"))

	// Racing resolutions are silent no-ops against a terminal battle.
	require.NoError(t, f.engine.Resolve(ctx, roomID, domain.BattleStatusDraw, nil, "time_expired"))
	require.NoError(t, f.engine.Resolve(ctx, roomID, domain.BattleStatusFinished, &bobID, "solved"))

	got, err := f.repo.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusFinished, got.Status)
	assert.Equal(t, 1, f.gateway.count(battle.EventBattleEnded))
	assert.Equal(t, 0, f.gateway.count(battle.EventBattleDraw))
	assert.Equal(t, 1, f.scores.callCount())
}

func TestEngine_LeaveWaiting_LastPlayerDeletesBattle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	b, aliceID := f.createDuo(t, "alice", "cf_alice")

	require.NoError(t, f.engine.LeaveBattle(ctx, b.RoomID, aliceID))

	_, err := f.repo.GetByRoomID(ctx, b.RoomID)
	assert.ErrorIs(t, err, domain.ErrBattleNotFound)
}

func TestEngine_LeaveWaiting_OtherPlayersRemain(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// A trio never fills with two players, so joining keeps it waiting.
	trio, err := f.engine.CreateBattle(ctx, battle.CreateBattleInput{
		Mode:     domain.ModeTrio,
		Duration: 15,
		Rating:   1400,
		UserID:   uuid.New(),
		Username: "host",
		Handle:   "cf_host",
	})
	require.NoError(t, err)

	bobID := uuid.New()
	_, err = f.engine.JoinBattle(ctx, trio.RoomID, bobID, "bob", "cf_bob")
	require.NoError(t, err)

	require.NoError(t, f.engine.LeaveBattle(ctx, trio.RoomID, bobID))

	got, err := f.repo.GetByRoomID(ctx, trio.RoomID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 1)
	assert.False(t, got.HasParticipant(bobID))

	assert.ErrorIs(t, f.engine.LeaveBattle(ctx, trio.RoomID, bobID), domain.ErrNotInBattle)
}

func TestEngine_LeaveActive_ForfeitsToOpponent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	roomID, aliceID, bobID := f.activeDuo(t)

	require.NoError(t, f.engine.LeaveBattle(ctx, roomID, aliceID))

	got, err := f.repo.GetByRoomID(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusFinished, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, bobID, got.Winner.UserID)
	assert.Equal(t, 1, f.gateway.count(battle.EventBattleEnded))
}

func TestEngine_JudgeFailure_BattleStaysWaiting(t *testing.T) {
	f := newEngineFixture(t)
	f.judge.problemErr = errors.New("codeforces down")
	ctx := context.Background()

	b, _ := f.createDuo(t, "alice", "cf_alice")
	_, err := f.engine.JoinBattle(ctx, b.RoomID, uuid.New(), "bob", "cf_bob")
	require.NoError(t, err)

	f.clock.Advance(f.cfg.StartGraceDelay)

	require.Eventually(t, func() bool {
		return f.gateway.count(battle.EventError) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := f.repo.GetByRoomID(ctx, b.RoomID)
	require.NoError(t, err)
	assert.Equal(t, domain.BattleStatusWaiting, got.Status)
	assert.Equal(t, 0, f.gateway.count(battle.EventBattleStarted))
}

func TestEngine_RemovePlayer_HostOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	trio, err := f.engine.CreateBattle(ctx, battle.CreateBattleInput{
		Mode:     domain.ModeTrio,
		Duration: 15,
		Rating:   1400,
		UserID:   uuid.New(),
		Username: "host",
		Handle:   "cf_host",
	})
	require.NoError(t, err)
	hostID := trio.CreatedBy

	bobID := uuid.New()
	_, err = f.engine.JoinBattle(ctx, trio.RoomID, bobID, "bob", "cf_bob")
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.RemovePlayer(ctx, trio.RoomID, bobID, hostID), domain.ErrNotHost)

	require.NoError(t, f.engine.RemovePlayer(ctx, trio.RoomID, hostID, bobID))
	got, err := f.repo.GetByRoomID(ctx, trio.RoomID)
	require.NoError(t, err)
	assert.False(t, got.HasParticipant(bobID))
}

func TestEngine_DeleteBattle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	b, aliceID := f.createDuo(t, "alice", "cf_alice")

	assert.ErrorIs(t, f.engine.DeleteBattle(ctx, b.RoomID, uuid.New()), domain.ErrNotHost)

	require.NoError(t, f.engine.DeleteBattle(ctx, b.RoomID, aliceID))
	_, err := f.repo.GetByRoomID(ctx, b.RoomID)
	assert.ErrorIs(t, err, domain.ErrBattleNotFound)
	assert.Equal(t, 1, f.gateway.count(battle.EventRoomClosed))
}

func TestEngine_InOpenBattle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	b, hostID := f.createDuo(t, "alice", "cf_alice")

	busy, err := f.engine.InOpenBattle(ctx, hostID)
	require.NoError(t, err)
	assert.True(t, busy)

	busy, err = f.engine.InOpenBattle(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, busy)

	require.NoError(t, f.engine.LeaveBattle(ctx, b.RoomID, hostID))

	busy, err = f.engine.InOpenBattle(ctx, hostID)
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestEngine_StartMatch(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a := &domain.Ticket{UserID: uuid.New(), Username: "alice", Handle: "cf_alice", Rating: 1500, PreferredRating: 1400, Duration: 20}
	b := &domain.Ticket{UserID: uuid.New(), Username: "bob", Handle: "cf_bob", Rating: 1450, PreferredRating: 1500, Duration: 30}

	created, err := f.engine.StartMatch(ctx, a, b)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeDuo, created.Mode)
	assert.Equal(t, 25, created.Duration)
	assert.Equal(t, 1450, created.ProblemRating)
	assert.True(t, created.HasParticipant(a.UserID))
	assert.True(t, created.HasParticipant(b.UserID))
	assert.Equal(t, 2, f.gateway.count(battle.EventMatchFound))

	f.clock.Advance(f.cfg.StartGraceDelay)
	require.Eventually(t, func() bool {
		got, err := f.repo.GetByRoomID(ctx, created.RoomID)
		return err == nil && got.Status == domain.BattleStatusActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_TimerBroadcasts(t *testing.T) {
	f := newEngineFixture(t)

	_, _, _ = f.activeDuo(t)

	f.clock.Advance(f.cfg.TickInterval)
	require.Eventually(t, func() bool {
		return f.gateway.count(battle.EventBattleTimer) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

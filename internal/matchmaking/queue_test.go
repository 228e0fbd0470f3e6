package matchmaking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/matchmaking"
)

// recordingStarter captures matched ticket pairs.
type recordingStarter struct {
	mu      sync.Mutex
	matches [][2]uuid.UUID
}

func (s *recordingStarter) StartMatch(ctx context.Context, a, b *domain.Ticket) (*domain.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, [2]uuid.UUID{a.UserID, b.UserID})
	return &domain.Battle{ID: uuid.New(), RoomID: "ROOM01", Mode: domain.ModeDuo}, nil
}

func (s *recordingStarter) matchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

func (s *recordingStarter) lastMatch() [2]uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches[len(s.matches)-1]
}

// nullGateway drops every event; tests that care use recordingGateway.
type nullGateway struct{}

func (nullGateway) ToRoom(string, battle.Event)      {}
func (nullGateway) ToUser(uuid.UUID, battle.Event)   {}
func (nullGateway) All(battle.Event)                 {}
func (nullGateway) Subscribe(uuid.UUID, string)      {}
func (nullGateway) Unsubscribe(uuid.UUID, string)    {}
func (nullGateway) CloseRoom(string, string)         {}

type recordingGateway struct {
	mu     sync.Mutex
	toUser map[uuid.UUID][]string
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{toUser: make(map[uuid.UUID][]string)}
}

func (g *recordingGateway) ToUser(id uuid.UUID, e battle.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toUser[id] = append(g.toUser[id], e.Type)
}

func (g *recordingGateway) ToRoom(string, battle.Event)   {}
func (g *recordingGateway) All(battle.Event)              {}
func (g *recordingGateway) Subscribe(uuid.UUID, string)   {}
func (g *recordingGateway) Unsubscribe(uuid.UUID, string) {}
func (g *recordingGateway) CloseRoom(string, string)      {}

func (g *recordingGateway) countFor(id uuid.UUID, eventType string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, typ := range g.toUser[id] {
		if typ == eventType {
			n++
		}
	}
	return n
}

func ticket(rating int) *domain.Ticket {
	return &domain.Ticket{
		UserID:          uuid.New(),
		Username:        "player",
		Handle:          "cf_player",
		Rating:          rating,
		PreferredRating: rating,
		Duration:        15,
	}
}

func TestQueue_PairsWithinBand(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	a := ticket(1400)
	b := ticket(1500)

	require.NoError(t, q.Enqueue(context.Background(), a))
	assert.Equal(t, 1, q.Waiting())

	require.NoError(t, q.Enqueue(context.Background(), b))

	assert.Equal(t, 1, starter.matchCount())
	assert.Equal(t, 0, q.Waiting())
	matched := starter.lastMatch()
	assert.ElementsMatch(t, []uuid.UUID{a.UserID, b.UserID}, matched[:])
}

func TestQueue_RespectsRatingBand(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	require.NoError(t, q.Enqueue(context.Background(), ticket(1000)))
	require.NoError(t, q.Enqueue(context.Background(), ticket(1300)))

	assert.Equal(t, 0, starter.matchCount(), "tickets 300 apart must not pair")
	assert.Equal(t, 2, q.Waiting())
}

func TestQueue_PrefersLongestWaiting(t *testing.T) {
	starter := &recordingStarter{}
	clock := clockwork.NewFakeClock()
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clock)

	// Two users outside each other's band, then a third compatible with both.
	early := ticket(1300)
	require.NoError(t, q.Enqueue(context.Background(), early))
	clock.Advance(time.Second)

	late := ticket(1500)
	require.NoError(t, q.Enqueue(context.Background(), late))
	clock.Advance(time.Second)

	joiner := ticket(1400)
	require.NoError(t, q.Enqueue(context.Background(), joiner))

	require.Equal(t, 1, starter.matchCount())
	matched := starter.lastMatch()
	assert.ElementsMatch(t, []uuid.UUID{early.UserID, joiner.UserID}, matched[:],
		"the earlier enqueue wins the tie")
	assert.True(t, q.InQueue(late.UserID))
}

func TestQueue_PrefersClosestRating(t *testing.T) {
	starter := &recordingStarter{}
	clock := clockwork.NewFakeClock()
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clock)

	// Both candidates sit inside the joiner's band, but the later one is
	// closer in rating and must win over the longer-waiting one.
	early := ticket(1200)
	require.NoError(t, q.Enqueue(context.Background(), early))
	clock.Advance(time.Second)

	late := ticket(1550)
	require.NoError(t, q.Enqueue(context.Background(), late))
	clock.Advance(time.Second)

	joiner := ticket(1400)
	require.NoError(t, q.Enqueue(context.Background(), joiner))

	require.Equal(t, 1, starter.matchCount())
	matched := starter.lastMatch()
	assert.ElementsMatch(t, []uuid.UUID{late.UserID, joiner.UserID}, matched[:],
		"the smaller rating distance wins regardless of wait time")
	assert.True(t, q.InQueue(early.UserID))
}

func TestQueue_BandsOnScoreNotPreference(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	// Scores are close while the requested problem ratings are far apart;
	// the pair must still form on score distance.
	a := ticket(1400)
	a.PreferredRating = 800
	b := ticket(1450)
	b.PreferredRating = 2400

	require.NoError(t, q.Enqueue(context.Background(), a))
	require.NoError(t, q.Enqueue(context.Background(), b))

	require.Equal(t, 1, starter.matchCount())

	// And the reverse: preferences agree but the scores are out of band.
	c := ticket(900)
	c.PreferredRating = 1500
	d := ticket(1800)
	d.PreferredRating = 1500

	require.NoError(t, q.Enqueue(context.Background(), c))
	require.NoError(t, q.Enqueue(context.Background(), d))

	assert.Equal(t, 1, starter.matchCount())
	assert.True(t, q.InQueue(c.UserID))
	assert.True(t, q.InQueue(d.UserID))
}

func TestQueue_NeverPairsUserWithSelf(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	a := ticket(1400)
	require.NoError(t, q.Enqueue(context.Background(), a))

	// Re-sending the search request replaces the ticket in place.
	again := ticket(1400)
	again.UserID = a.UserID
	require.NoError(t, q.Enqueue(context.Background(), again))

	assert.Equal(t, 0, starter.matchCount())
	assert.Equal(t, 1, q.Waiting())
}

func TestQueue_ReenqueueResetsTimeout(t *testing.T) {
	starter := &recordingStarter{}
	gw := newRecordingGateway()
	clock := clockwork.NewFakeClock()
	cfg := matchmaking.DefaultConfig()
	q := matchmaking.NewQueue(cfg, starter, gw, clock)

	a := ticket(1000)
	require.NoError(t, q.Enqueue(context.Background(), a))

	clock.Advance(cfg.SearchTimeout / 2)

	// Refreshing the request replaces the ticket and re-arms its timeout.
	refresh := ticket(1000)
	refresh.UserID = a.UserID
	require.NoError(t, q.Enqueue(context.Background(), refresh))

	clock.Advance(cfg.SearchTimeout / 2)
	assert.Equal(t, 0, gw.countFor(a.UserID, battle.EventMatchmakingTimeout))
	assert.Equal(t, 1, q.Waiting())

	clock.Advance(cfg.SearchTimeout / 2)
	require.Eventually(t, func() bool {
		return gw.countFor(a.UserID, battle.EventMatchmakingTimeout) == 1
	}, 2*time.Second, 10*time.Millisecond, "timeout fires from the refreshed enqueue")
}

func TestQueue_TimeoutNotifiesOnce(t *testing.T) {
	starter := &recordingStarter{}
	gw := newRecordingGateway()
	clock := clockwork.NewFakeClock()
	cfg := matchmaking.DefaultConfig()
	q := matchmaking.NewQueue(cfg, starter, gw, clock)

	a := ticket(1000)
	require.NoError(t, q.Enqueue(context.Background(), a))

	clock.Advance(cfg.SearchTimeout)

	require.Eventually(t, func() bool {
		return gw.countFor(a.UserID, battle.EventMatchmakingTimeout) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, q.InQueue(a.UserID))

	// A later advance must not re-fire the timeout.
	clock.Advance(cfg.SearchTimeout)
	assert.Equal(t, 1, gw.countFor(a.UserID, battle.EventMatchmakingTimeout))
}

func TestQueue_DequeueIsIdempotent(t *testing.T) {
	starter := &recordingStarter{}
	gw := newRecordingGateway()
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, gw, clockwork.NewFakeClock())

	a := ticket(1400)
	require.NoError(t, q.Enqueue(context.Background(), a))

	q.Dequeue(a.UserID)
	assert.False(t, q.InQueue(a.UserID))
	assert.Equal(t, 1, gw.countFor(a.UserID, battle.EventMatchmakingLeft))

	// Cancelling again is a silent no-op.
	q.Dequeue(a.UserID)
	assert.Equal(t, 1, gw.countFor(a.UserID, battle.EventMatchmakingLeft))
}

func TestQueue_MatchedTicketCannotMatchTwice(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	a := ticket(1400)
	b := ticket(1400)
	c := ticket(1400)

	require.NoError(t, q.Enqueue(context.Background(), a))
	require.NoError(t, q.Enqueue(context.Background(), b))
	require.NoError(t, q.Enqueue(context.Background(), c))

	// a and b paired on b's arrival; c has nobody left.
	assert.Equal(t, 1, starter.matchCount())
	assert.Equal(t, 1, q.Waiting())
	assert.True(t, q.InQueue(c.UserID))
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	starter := &recordingStarter{}
	q := matchmaking.NewQueue(matchmaking.DefaultConfig(), starter, nullGateway{}, clockwork.NewFakeClock())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), ticket(1400))
		}()
	}
	wg.Wait()

	// Every ticket is matched exactly once; an even count empties the queue.
	assert.Equal(t, n/2, starter.matchCount())
	assert.Equal(t, 0, q.Waiting())
}

// Package matchmaking pairs queued players by rating proximity. The queue is
// the single synchronization point: tickets enter and leave under its mutex,
// and a successful pairing removes both tickets atomically before the battle
// is started, so no ticket can be matched twice.
package matchmaking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
)

// Starter creates and launches a battle for two matched tickets.
type Starter interface {
	StartMatch(ctx context.Context, a, b *domain.Ticket) (*domain.Battle, error)
}

// Config carries the queue's matching policy.
type Config struct {
	RatingBand    int           // max |a.rating - b.rating| for a pairing
	SearchTimeout time.Duration // how long a ticket waits before timing out
	SweepInterval time.Duration // periodic pass over waiting tickets
}

func DefaultConfig() Config {
	return Config{
		RatingBand:    200,
		SearchTimeout: 2 * time.Minute,
		SweepInterval: 5 * time.Second,
	}
}

type Queue struct {
	cfg     Config
	starter Starter
	gateway battle.Gateway
	clock   clockwork.Clock

	mu       sync.Mutex
	tickets  map[uuid.UUID]*domain.Ticket
	timeouts map[uuid.UUID]clockwork.Timer

	stopSweep chan struct{}
	stopOnce  sync.Once
}

func NewQueue(cfg Config, starter Starter, gateway battle.Gateway, clock clockwork.Clock) *Queue {
	return &Queue{
		cfg:       cfg,
		starter:   starter,
		gateway:   gateway,
		clock:     clock,
		tickets:   make(map[uuid.UUID]*domain.Ticket),
		timeouts:  make(map[uuid.UUID]clockwork.Timer),
		stopSweep: make(chan struct{}),
	}
}

// Start launches the periodic sweep that pairs waiting tickets.
func (q *Queue) Start() {
	go q.sweepLoop()
}

// Stop halts the sweep loop and cancels all pending timeout timers.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopSweep) })

	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timeouts {
		t.Stop()
		delete(q.timeouts, id)
	}
}

// Enqueue adds a ticket to the queue, then immediately tries to pair it.
// Re-sending a search request replaces the prior ticket and re-arms its
// timeout from now.
func (q *Queue) Enqueue(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Handle == "" {
		return domain.ErrHandleRequired
	}

	q.mu.Lock()
	// Re-enqueue replaces the prior ticket and its timeout.
	if timer, ok := q.timeouts[ticket.UserID]; ok {
		timer.Stop()
	}
	ticket.EnqueuedAt = q.clock.Now()
	q.tickets[ticket.UserID] = ticket
	q.timeouts[ticket.UserID] = q.clock.AfterFunc(q.cfg.SearchTimeout, func() {
		q.expire(ticket.UserID)
	})
	waiting := len(q.tickets)
	q.mu.Unlock()

	log.Info().
		Str("username", ticket.Username).
		Int("rating", ticket.Rating).
		Int("waiting", waiting).
		Msg("player queued for matchmaking")

	q.gateway.ToUser(ticket.UserID, battle.Event{
		Type: battle.EventMatchmakingJoined,
		Payload: battle.MatchmakingJoinedPayload{
			Message:   "Searching for an opponent...",
			QueueSize: waiting,
		},
	})

	q.TryMatch(ctx, ticket.UserID)
	return nil
}

// Dequeue removes a user's ticket. Removing an absent ticket is a no-op so
// that a cancel racing a match or a timeout stays safe.
func (q *Queue) Dequeue(userID uuid.UUID) {
	q.mu.Lock()
	_, ok := q.tickets[userID]
	q.removeLocked(userID)
	q.mu.Unlock()

	if ok {
		q.gateway.ToUser(userID, battle.Event{
			Type:    battle.EventMatchmakingLeft,
			Payload: battle.MatchmakingLeftPayload{Message: "Left matchmaking queue"},
		})
	}
}

// Waiting reports how many tickets are queued.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets)
}

// InQueue reports whether a user has a ticket.
func (q *Queue) InQueue(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tickets[userID]
	return ok
}

// removeLocked drops a ticket and its timeout timer. Caller holds the mutex.
func (q *Queue) removeLocked(userID uuid.UUID) {
	delete(q.tickets, userID)
	if t, ok := q.timeouts[userID]; ok {
		t.Stop()
		delete(q.timeouts, userID)
	}
}

// expire fires when a ticket's search timeout elapses. The ticket may already
// have been matched or dequeued; only a ticket still present is notified.
func (q *Queue) expire(userID uuid.UUID) {
	q.mu.Lock()
	ticket, ok := q.tickets[userID]
	if ok {
		q.removeLocked(userID)
	}
	q.mu.Unlock()

	if !ok {
		return
	}

	log.Info().Str("username", ticket.Username).Msg("matchmaking search timed out")
	q.gateway.ToUser(userID, battle.Event{
		Type: battle.EventMatchmakingTimeout,
		Payload: battle.MatchmakingTimeoutPayload{
			Message:       "No opponent found. Try creating a battle instead!",
			TryAgainLater: true,
		},
	})
}

// findBestMatchLocked returns the closest-rated compatible ticket for the
// given ticket, or nil. Candidates outside the rating band are skipped; among
// the rest the smallest score distance wins, with equal distances breaking in
// favor of the earlier enqueue. Caller holds the mutex.
func (q *Queue) findBestMatchLocked(ticket *domain.Ticket) *domain.Ticket {
	var best *domain.Ticket
	bestDiff := 0
	for _, candidate := range q.tickets {
		if candidate.UserID == ticket.UserID {
			continue
		}
		diff := candidate.Rating - ticket.Rating
		if diff < 0 {
			diff = -diff
		}
		if diff > q.cfg.RatingBand {
			continue
		}
		switch {
		case best == nil || diff < bestDiff:
			best = candidate
			bestDiff = diff
		case diff == bestDiff && candidate.EnqueuedAt.Before(best.EnqueuedAt):
			best = candidate
		}
	}
	return best
}

// TryMatch attempts to pair the given user with the best waiting candidate.
// Both tickets leave the queue under the mutex before the battle is started,
// so a concurrent TryMatch for either user finds nothing to pair.
func (q *Queue) TryMatch(ctx context.Context, userID uuid.UUID) {
	q.mu.Lock()
	ticket, ok := q.tickets[userID]
	if !ok {
		q.mu.Unlock()
		return
	}
	opponent := q.findBestMatchLocked(ticket)
	if opponent == nil {
		q.mu.Unlock()
		return
	}
	q.removeLocked(ticket.UserID)
	q.removeLocked(opponent.UserID)
	q.mu.Unlock()

	if _, err := q.starter.StartMatch(ctx, ticket, opponent); err != nil {
		log.Error().Err(err).
			Str("player_a", ticket.Username).
			Str("player_b", opponent.Username).
			Msg("failed to start matched battle")
		// Put both tickets back so the players keep searching.
		q.requeue(ticket)
		q.requeue(opponent)
	}
}

func (q *Queue) requeue(ticket *domain.Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tickets[ticket.UserID]; ok {
		return
	}
	q.tickets[ticket.UserID] = ticket
	q.timeouts[ticket.UserID] = q.clock.AfterFunc(q.cfg.SearchTimeout, func() {
		q.expire(ticket.UserID)
	})
}

// sweepLoop periodically walks the queue pairing whatever it can, and keeps
// waiting players informed of the queue size.
func (q *Queue) sweepLoop() {
	ticker := q.clock.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopSweep:
			return
		case <-ticker.Chan():
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	q.mu.Lock()
	ids := make([]uuid.UUID, 0, len(q.tickets))
	for id := range q.tickets {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.TryMatch(context.Background(), id)
	}

	now := q.clock.Now()
	q.mu.Lock()
	remaining := make([]*domain.Ticket, 0, len(q.tickets))
	for _, t := range q.tickets {
		remaining = append(remaining, t)
	}
	q.mu.Unlock()

	for _, t := range remaining {
		waited := now.Sub(t.EnqueuedAt)
		q.gateway.ToUser(t.UserID, battle.Event{
			Type: battle.EventMatchmakingWaiting,
			Payload: battle.MatchmakingWaitingPayload{
				Message:       "Still searching for an opponent...",
				QueueSize:     len(remaining),
				WaitingTime:   int(waited / time.Second),
				RemainingTime: int((q.cfg.SearchTimeout - waited) / time.Second),
			},
		})
	}
}

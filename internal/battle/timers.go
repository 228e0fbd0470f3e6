package battle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/domain"
)

// timerBundle groups the three goroutines attached to one active battle: the
// countdown ticker, the solve poller, and the deadline timer. A single stop
// channel fans out to all three; release is safe to call any number of times
// and from any of the goroutines themselves.
type timerBundle struct {
	stop chan struct{}
	once sync.Once
}

func newTimerBundle() *timerBundle {
	return &timerBundle{stop: make(chan struct{})}
}

func (t *timerBundle) release() {
	t.once.Do(func() { close(t.stop) })
}

// releaseTimers stops the room's timer bundle if one is armed. Caller holds
// the room lock.
func (rs *roomState) releaseTimers() {
	if rs.timers != nil {
		rs.timers.release()
		rs.timers = nil
	}
}

// armTimers starts the countdown broadcast, the solve poll, and the deadline
// for an activated battle.
func (e *Engine) armTimers(roomID string, startTime, endTime time.Time) *timerBundle {
	tb := newTimerBundle()
	go e.runTicker(tb, roomID, startTime, endTime)
	go e.runSolvePoll(tb, roomID, startTime)
	go e.runDeadline(tb, roomID, endTime)
	return tb
}

// runTicker broadcasts the remaining and elapsed seconds at the tick interval.
// It stops itself once the countdown reaches zero; the deadline goroutine owns
// the actual resolution.
func (e *Engine) runTicker(tb *timerBundle, roomID string, startTime, endTime time.Time) {
	ticker := e.clock.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tb.stop:
			return
		case now := <-ticker.Chan():
			remaining := endTime.Sub(now)
			if remaining < 0 {
				remaining = 0
			}
			e.gateway.ToRoom(roomID, Event{Type: EventBattleTimer, Payload: BattleTimerPayload{
				Remaining: int(remaining / time.Second),
				Elapsed:   int(now.Sub(startTime) / time.Second),
			}})
			if remaining == 0 {
				return
			}
		}
	}
}

// runSolvePoll asks the judge service about each non-forfeited participant's
// submissions at the poll interval. The first participant, in join order,
// found to have solved the problem since the battle started wins.
func (e *Engine) runSolvePoll(tb *timerBundle, roomID string, startTime time.Time) {
	ticker := e.clock.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tb.stop:
			return
		case <-ticker.Chan():
			if e.checkForWinner(context.Background(), roomID, startTime) {
				return
			}
		}
	}
}

// checkForWinner snapshots the battle under the room lock, then performs the
// judge calls unlocked. Resolve re-validates terminal status, so a stale
// positive from a poll that raced the deadline is harmless.
func (e *Engine) checkForWinner(ctx context.Context, roomID string, startTime time.Time) bool {
	rs := e.room(roomID)

	rs.mu.Lock()
	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil || battle.Status != domain.BattleStatusActive || battle.Problem == nil {
		rs.mu.Unlock()
		return true
	}
	var contenders []domain.Participant
	for _, p := range battle.Participants {
		if !rs.forfeited[p.UserID] {
			contenders = append(contenders, p)
		}
	}
	problem := *battle.Problem
	rs.mu.Unlock()

	for _, p := range contenders {
		solved, err := e.judge.Solved(ctx, p.Handle, problem.ContestID, problem.Index, startTime)
		if err != nil {
			log.Warn().Err(err).
				Str("room_id", roomID).
				Str("handle", p.Handle).
				Msg("solve check failed")
			continue
		}
		if solved {
			userID := p.UserID
			if err := e.Resolve(ctx, roomID, domain.BattleStatusFinished, &userID, "solved"); err != nil {
				log.Error().Err(err).Str("room_id", roomID).Msg("failed to resolve solved battle")
				return false
			}
			return true
		}
	}
	return false
}

// runDeadline resolves the battle as a draw when the duration expires without
// a winner. Resolve's terminal guard makes a late firing a no-op.
func (e *Engine) runDeadline(tb *timerBundle, roomID string, endTime time.Time) {
	timer := e.clock.NewTimer(endTime.Sub(e.clock.Now()))
	defer timer.Stop()

	select {
	case <-tb.stop:
		return
	case <-timer.Chan():
		if err := e.Resolve(context.Background(), roomID, domain.BattleStatusDraw, nil, "time_expired"); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to resolve expired battle")
		}
	}
}

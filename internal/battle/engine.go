// Package battle holds the battle lifecycle core: the per-battle state
// machine, the timer registry, and the orchestration that ties them to the
// judge service and the event gateway.
//
// Every mutating entry point for a given room serializes on that room's
// mutex, so a leave racing an activate racing a resolve can never interleave
// reads and writes of the battle's status. Judge-service calls are made with
// the lock released and the state is re-validated before any write.
package battle

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/judge"
	"github.com/codeclash/codeclash-server/internal/repository"
)

// Config carries the engine's timing and validation policy.
type Config struct {
	StartGraceDelay time.Duration // delay between capacity reached and activation
	TickInterval    time.Duration // BATTLE_TIMER broadcast interval
	PollInterval    time.Duration // judge solve-check interval

	MinDuration, MaxDuration int // minutes
	MinRating, MaxRating     int
}

func DefaultConfig() Config {
	return Config{
		StartGraceDelay: 3 * time.Second,
		TickInterval:    30 * time.Second,
		PollInterval:    10 * time.Second,
		MinDuration:     5,
		MaxDuration:     180,
		MinRating:       800,
		MaxRating:       3500,
	}
}

// ScoreKeeper applies score updates when a battle resolves.
type ScoreKeeper interface {
	ApplyResult(ctx context.Context, battle *domain.Battle) error
}

type Engine struct {
	cfg     Config
	battles repository.BattleRepository
	judge   judge.Service
	scores  ScoreKeeper
	gateway Gateway
	clock   clockwork.Clock

	mu    sync.Mutex
	rooms map[string]*roomState
}

// roomState is the in-memory runtime companion of one persisted battle. Its
// mutex is the per-battle serialization point.
type roomState struct {
	mu        sync.Mutex
	timers    *timerBundle
	forfeited map[uuid.UUID]bool
}

func NewEngine(cfg Config, battles repository.BattleRepository, judgeSvc judge.Service, scores ScoreKeeper, gateway Gateway, clock clockwork.Clock) *Engine {
	return &Engine{
		cfg:     cfg,
		battles: battles,
		judge:   judgeSvc,
		scores:  scores,
		gateway: gateway,
		clock:   clock,
		rooms:   make(map[string]*roomState),
	}
}

func (e *Engine) room(roomID string) *roomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.rooms[roomID]
	if !ok {
		rs = &roomState{forfeited: make(map[uuid.UUID]bool)}
		e.rooms[roomID] = rs
	}
	return rs
}

// dropRoom must be called with the room's own mutex held; it only detaches the
// runtime state from the registry.
func (e *Engine) dropRoom(roomID string) {
	e.mu.Lock()
	delete(e.rooms, roomID)
	e.mu.Unlock()
}

type CreateBattleInput struct {
	Mode     domain.BattleMode
	Duration int // minutes
	Rating   int
	Topics   []string
	UserID   uuid.UUID
	Username string
	Handle   string
}

// CreateBattle creates a waiting battle with the creator as sole participant.
func (e *Engine) CreateBattle(ctx context.Context, in CreateBattleInput) (*domain.Battle, error) {
	if !in.Mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	if in.Duration < e.cfg.MinDuration || in.Duration > e.cfg.MaxDuration {
		return nil, domain.ErrInvalidDuration
	}
	if in.Rating < e.cfg.MinRating || in.Rating > e.cfg.MaxRating {
		return nil, domain.ErrInvalidRating
	}
	if in.Handle == "" {
		return nil, domain.ErrHandleRequired
	}

	battle := &domain.Battle{
		ID:            uuid.New(),
		RoomID:        generateRoomID(),
		Mode:          in.Mode,
		Duration:      in.Duration,
		ProblemRating: in.Rating,
		Topics:        in.Topics,
		CreatedBy:     in.UserID,
		Status:        domain.BattleStatusWaiting,
		CreatedAt:     e.clock.Now(),
	}
	battle.AddParticipant(in.UserID, in.Username, in.Handle)

	if err := e.battles.Create(ctx, battle); err != nil {
		return nil, fmt.Errorf("create battle: %w", err)
	}

	log.Info().
		Str("room_id", battle.RoomID).
		Str("mode", string(battle.Mode)).
		Int("rating", battle.ProblemRating).
		Str("username", in.Username).
		Msg("battle created")

	e.gateway.Subscribe(in.UserID, battle.RoomID)
	e.gateway.All(Event{Type: EventBattleListUpdated})
	return battle, nil
}

// JoinBattle adds a participant to a waiting battle. A full battle or a
// duplicate join reports ErrBattleFull without mutation.
func (e *Engine) JoinBattle(ctx context.Context, roomID string, userID uuid.UUID, username, handle string) (*domain.Battle, error) {
	if handle == "" {
		return nil, domain.ErrHandleRequired
	}

	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if battle.Status != domain.BattleStatusWaiting {
		return nil, domain.ErrBattleAlreadyStarted
	}
	if !battle.AddParticipant(userID, username, handle) {
		return nil, domain.ErrBattleFull
	}

	joined := battle.Participants[len(battle.Participants)-1]
	if err := e.battles.AddParticipant(ctx, &joined); err != nil {
		return nil, fmt.Errorf("persist participant: %w", err)
	}

	log.Info().Str("room_id", roomID).Str("username", username).Msg("player joined battle")

	e.gateway.Subscribe(userID, roomID)
	e.gateway.ToRoom(roomID, Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{
		UserID:   userID,
		Username: username,
		Handle:   handle,
		Players:  battle.Participants,
	}})

	if battle.IsFull() {
		e.gateway.ToRoom(roomID, Event{Type: EventReadyToStart, Payload: ReadyToStartPayload{
			Message: "All players joined! Battle will start soon...",
		}})
		e.scheduleActivation(roomID)
	}

	e.gateway.All(Event{Type: EventBattleListUpdated})
	return battle, nil
}

// scheduleActivation arms the start grace timer. The activation itself
// re-checks that the battle is still waiting, so a concurrent leave or delete
// during the grace window simply turns the callback into a no-op.
func (e *Engine) scheduleActivation(roomID string) {
	e.clock.AfterFunc(e.cfg.StartGraceDelay, func() {
		e.Activate(context.Background(), roomID)
	})
}

// Activate transitions a waiting battle to active: it fetches a problem from
// the judge service, stamps start/end times, and arms the timer bundle. The
// judge call runs without the room lock; the battle state is re-validated
// before the transition is applied. On judge failure the battle stays waiting
// and the room is told; the next join (or a matchmaking restart) re-arms the
// grace timer. There is no unattended background retry beyond the client's
// own backoff.
func (e *Engine) Activate(ctx context.Context, roomID string) {
	rs := e.room(roomID)

	rs.mu.Lock()
	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil || battle.Status != domain.BattleStatusWaiting {
		rs.mu.Unlock()
		return
	}
	handles := battle.Handles()
	rating := battle.ProblemRating
	topics := []string(battle.Topics)
	duration := time.Duration(battle.Duration) * time.Minute
	rs.mu.Unlock()

	problem, err := e.judge.UnsolvedProblem(ctx, handles, rating, topics)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to fetch problem")
		e.gateway.ToRoom(roomID, Event{Type: EventError, Payload: ErrorPayload{
			Code:    "EXTERNAL_SERVICE_ERROR",
			Message: "Failed to start battle: could not fetch a problem",
		}})
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err = e.battles.GetByRoomID(ctx, roomID)
	if err != nil || battle.Status != domain.BattleStatusWaiting {
		// The battle was deleted, emptied, or already started while the judge
		// call was in flight.
		return
	}

	now := e.clock.Now()
	end := now.Add(duration)
	battle.Problem = problem
	battle.Status = domain.BattleStatusActive
	battle.StartTime = &now
	battle.EndTime = &end

	if err := e.battles.Update(ctx, battle); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist activation")
		battle.Status = domain.BattleStatusWaiting
		return
	}

	log.Info().
		Str("room_id", roomID).
		Str("problem", problem.Name).
		Time("end_time", end).
		Msg("battle started")

	e.gateway.ToRoom(roomID, Event{Type: EventBattleStarted, Payload: BattleStartedPayload{
		Problem:  problem,
		Duration: battle.Duration,
		EndTime:  end,
	}})

	rs.timers = e.armTimers(roomID, now, end)
	e.gateway.All(Event{Type: EventBattleListUpdated})
}

// LeaveBattle applies the status-dependent leave semantics: removal while
// waiting, forfeit while active, plain disengagement once terminal.
func (e *Engine) LeaveBattle(ctx context.Context, roomID string, userID uuid.UUID) error {
	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil {
		return err
	}

	switch battle.Status {
	case domain.BattleStatusWaiting:
		if !battle.HasParticipant(userID) {
			return domain.ErrNotInBattle
		}
		battle.RemoveParticipant(userID)
		e.gateway.Unsubscribe(userID, roomID)

		if len(battle.Participants) == 0 {
			if err := e.battles.Delete(ctx, roomID); err != nil {
				return fmt.Errorf("delete empty battle: %w", err)
			}
			rs.releaseTimers()
			e.dropRoom(roomID)
			log.Info().Str("room_id", roomID).Msg("empty battle deleted")
		} else {
			if err := e.battles.RemoveParticipant(ctx, battle.ID, userID); err != nil {
				return fmt.Errorf("remove participant: %w", err)
			}
			e.gateway.ToRoom(roomID, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{
				UserID:  userID,
				Players: battle.Participants,
			}})
		}
		e.gateway.All(Event{Type: EventBattleListUpdated})
		return nil

	case domain.BattleStatusActive:
		if !battle.HasParticipant(userID) {
			return domain.ErrNotInBattle
		}
		return e.forfeitLocked(ctx, rs, battle, userID)

	default:
		// Terminal battles: leaving is purely a connection-level matter.
		e.gateway.Unsubscribe(userID, roomID)
		return nil
	}
}

// forfeitLocked marks the leaver as forfeited. When exactly one participant
// survives, that participant wins; with more than one survivor the battle
// continues. Caller holds the room lock.
func (e *Engine) forfeitLocked(ctx context.Context, rs *roomState, battle *domain.Battle, leaverID uuid.UUID) error {
	rs.forfeited[leaverID] = true

	var survivors []domain.Participant
	for _, p := range battle.Participants {
		if !rs.forfeited[p.UserID] {
			survivors = append(survivors, p)
		}
	}

	e.gateway.Unsubscribe(leaverID, battle.RoomID)

	if len(survivors) == 1 {
		winner := survivors[0]
		log.Info().
			Str("room_id", battle.RoomID).
			Str("winner", winner.Username).
			Msg("battle ended by forfeit")
		return e.resolveLocked(ctx, rs, battle, domain.BattleStatusFinished, &winner, "forfeit")
	}

	e.gateway.ToRoom(battle.RoomID, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{
		UserID:  leaverID,
		Players: survivors,
		Reason:  "forfeit",
	}})
	return nil
}

// Resolve transitions an active battle to finished (with a winner) or draw.
// Calls against an already-terminal battle are silent no-ops, which is what
// keeps a deadline firing and a solve-poll succeeding at the same instant from
// double-resolving.
func (e *Engine) Resolve(ctx context.Context, roomID string, status domain.BattleStatus, winnerUserID *uuid.UUID, reason string) error {
	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil {
		return err
	}

	var winner *domain.Participant
	if winnerUserID != nil {
		winner = battle.ParticipantFor(*winnerUserID)
		if winner == nil {
			return domain.ErrNotInBattle
		}
	}
	return e.resolveLocked(ctx, rs, battle, status, winner, reason)
}

func (e *Engine) resolveLocked(ctx context.Context, rs *roomState, battle *domain.Battle, status domain.BattleStatus, winner *domain.Participant, reason string) error {
	if battle.Status.Terminal() {
		return nil
	}

	now := e.clock.Now()
	battle.Status = status
	battle.EndTime = &now
	if winner != nil {
		battle.Winner = &domain.Winner{
			UserID:   winner.UserID,
			Username: winner.Username,
			Handle:   winner.Handle,
		}
	}

	// Persist before any broadcast so observers never see a result the store
	// doesn't yet reflect.
	if err := e.battles.Update(ctx, battle); err != nil {
		return fmt.Errorf("persist resolution: %w", err)
	}

	if err := e.scores.ApplyResult(ctx, battle); err != nil {
		log.Error().Err(err).Str("room_id", battle.RoomID).Msg("score update failed")
	}

	rs.releaseTimers()

	log.Info().
		Str("room_id", battle.RoomID).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("battle resolved")

	if status == domain.BattleStatusFinished && battle.Winner != nil {
		msg := fmt.Sprintf("%s wins!", battle.Winner.Username)
		if reason == "forfeit" {
			msg = fmt.Sprintf("%s wins by forfeit!", battle.Winner.Username)
		}
		e.gateway.ToRoom(battle.RoomID, Event{Type: EventBattleEnded, Payload: BattleEndedPayload{
			Winner:  battle.Winner,
			Battle:  battle,
			Reason:  reason,
			Message: msg,
		}})
	} else {
		e.gateway.ToRoom(battle.RoomID, Event{Type: EventBattleDraw, Payload: BattleDrawPayload{
			Message: "Time expired! No winner. All players earn +5 points.",
			Battle:  battle,
		}})
	}

	e.gateway.All(Event{Type: EventBattleListUpdated})
	return nil
}

// RemovePlayer kicks a participant from a waiting battle. Host only.
func (e *Engine) RemovePlayer(ctx context.Context, roomID string, actingUserID, targetUserID uuid.UUID) error {
	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil {
		return err
	}
	if battle.CreatedBy != actingUserID {
		return domain.ErrNotHost
	}
	if battle.Status != domain.BattleStatusWaiting {
		return domain.ErrBattleAlreadyStarted
	}
	if !battle.HasParticipant(targetUserID) {
		return domain.ErrNotInBattle
	}

	battle.RemoveParticipant(targetUserID)
	if err := e.battles.RemoveParticipant(ctx, battle.ID, targetUserID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}

	e.gateway.Unsubscribe(targetUserID, roomID)
	e.gateway.ToRoom(roomID, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{
		UserID:  targetUserID,
		Players: battle.Participants,
	}})
	e.gateway.All(Event{Type: EventBattleListUpdated})
	return nil
}

// DeleteBattle removes a battle unconditionally, in any status. Host only.
func (e *Engine) DeleteBattle(ctx context.Context, roomID string, actingUserID uuid.UUID) error {
	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	battle, err := e.battles.GetByRoomID(ctx, roomID)
	if err != nil {
		return err
	}
	if battle.CreatedBy != actingUserID {
		return domain.ErrNotHost
	}

	if err := e.battles.Delete(ctx, roomID); err != nil {
		return fmt.Errorf("delete battle: %w", err)
	}

	rs.releaseTimers()
	e.dropRoom(roomID)

	log.Info().
		Str("room_id", roomID).
		Str("status", string(battle.Status)).
		Msg("battle deleted by host")

	e.gateway.CloseRoom(roomID, "host_deleted")
	e.gateway.All(Event{Type: EventBattleListUpdated})
	return nil
}

// Disconnect applies leave semantics for a dropped connection. Cleanup errors
// are logged and swallowed so a broken cleanup can't cascade into other
// battles' processing.
func (e *Engine) Disconnect(ctx context.Context, roomID string, userID uuid.UUID) {
	if err := e.LeaveBattle(ctx, roomID, userID); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("disconnect cleanup failed")
	}
}

// Snapshot returns the current persisted state of a battle.
func (e *Engine) Snapshot(ctx context.Context, roomID string) (*domain.Battle, error) {
	rs := e.room(roomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return e.battles.GetByRoomID(ctx, roomID)
}

// InOpenBattle reports whether the user participates in any waiting or
// active battle. Matchmaking refuses tickets from such users.
func (e *Engine) InOpenBattle(ctx context.Context, userID uuid.UUID) (bool, error) {
	battles, err := e.battles.ListOpen(ctx)
	if err != nil {
		return false, fmt.Errorf("list open battles: %w", err)
	}
	for _, b := range battles {
		if b.ParticipantFor(userID) != nil {
			return true, nil
		}
	}
	return false, nil
}

// StartMatch creates a duo battle for two matched tickets, using the average
// of their preferred ratings and durations, notifies both users, and schedules
// activation after the grace delay so both clients can subscribe first.
func (e *Engine) StartMatch(ctx context.Context, a, b *domain.Ticket) (*domain.Battle, error) {
	battle := &domain.Battle{
		ID:            uuid.New(),
		RoomID:        generateRoomID(),
		Mode:          domain.ModeDuo,
		Duration:      (a.Duration + b.Duration + 1) / 2,
		ProblemRating: (a.PreferredRating + b.PreferredRating + 1) / 2,
		CreatedBy:     a.UserID,
		Status:        domain.BattleStatusWaiting,
		CreatedAt:     e.clock.Now(),
	}
	battle.AddParticipant(a.UserID, a.Username, a.Handle)
	battle.AddParticipant(b.UserID, b.Username, b.Handle)

	if err := e.battles.Create(ctx, battle); err != nil {
		return nil, fmt.Errorf("create matched battle: %w", err)
	}

	log.Info().
		Str("room_id", battle.RoomID).
		Str("player_a", a.Username).
		Str("player_b", b.Username).
		Msg("match found")

	e.gateway.Subscribe(a.UserID, battle.RoomID)
	e.gateway.Subscribe(b.UserID, battle.RoomID)

	e.gateway.ToUser(a.UserID, Event{Type: EventMatchFound, Payload: MatchFoundPayload{
		Message:  fmt.Sprintf("Match found! You'll battle %s", b.Username),
		Battle:   battle,
		Opponent: OpponentInfo{Username: b.Username, Rating: b.Rating},
	}})
	e.gateway.ToUser(b.UserID, Event{Type: EventMatchFound, Payload: MatchFoundPayload{
		Message:  fmt.Sprintf("Match found! You'll battle %s", a.Username),
		Battle:   battle,
		Opponent: OpponentInfo{Username: a.Username, Rating: a.Rating},
	}})
	e.gateway.ToRoom(battle.RoomID, Event{Type: EventReadyToStart, Payload: ReadyToStartPayload{
		Message: "Match found! Battle will start soon...",
	}})

	e.scheduleActivation(battle.RoomID)
	e.gateway.All(Event{Type: EventBattleListUpdated})
	return battle, nil
}

const roomIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateRoomID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	for i, b := range buf {
		buf[i] = roomIDCharset[int(b)%len(roomIDCharset)]
	}
	return string(buf)
}

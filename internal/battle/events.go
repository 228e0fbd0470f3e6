package battle

import (
	"time"

	"github.com/google/uuid"

	"github.com/codeclash/codeclash-server/internal/domain"
)

// Event is an outbound notification produced by the engine or the matchmaking
// queue. The gateway owns delivery; the engine never talks to connections
// directly.
type Event struct {
	Type    string
	Payload any
}

// Gateway fans events out to connected clients and tracks which users are
// subscribed to which room. Implemented by the websocket hub.
type Gateway interface {
	ToRoom(roomID string, e Event)
	ToUser(userID uuid.UUID, e Event)
	All(e Event)

	Subscribe(userID uuid.UUID, roomID string)
	Unsubscribe(userID uuid.UUID, roomID string)

	// CloseRoom broadcasts a ROOM_CLOSED event and force-removes every
	// subscriber from the room.
	CloseRoom(roomID, reason string)
}

const (
	EventBattleCreated      = "BATTLE_CREATED"
	EventBattleJoined       = "BATTLE_JOINED"
	EventPlayerJoined       = "PLAYER_JOINED"
	EventPlayerLeft         = "PLAYER_LEFT"
	EventBattleLeft         = "BATTLE_LEFT"
	EventReadyToStart       = "READY_TO_START"
	EventBattleStarted      = "BATTLE_STARTED"
	EventBattleTimer        = "BATTLE_TIMER"
	EventBattleEnded        = "BATTLE_ENDED"
	EventBattleDraw         = "BATTLE_DRAW"
	EventRoomClosed         = "ROOM_CLOSED"
	EventBattleDeleted      = "BATTLE_DELETED"
	EventBattleListUpdated  = "BATTLE_LIST_UPDATED"
	EventMatchmakingJoined  = "MATCHMAKING_JOINED"
	EventMatchmakingWaiting = "MATCHMAKING_WAITING"
	EventMatchFound         = "MATCH_FOUND"
	EventMatchmakingTimeout = "MATCHMAKING_TIMEOUT"
	EventMatchmakingLeft    = "MATCHMAKING_LEFT"
	EventError              = "ERROR"
)

type BattleCreatedPayload struct {
	Battle *domain.Battle `json:"battle"`
}

type BattleJoinedPayload struct {
	Battle *domain.Battle `json:"battle"`
}

type PlayerJoinedPayload struct {
	UserID   uuid.UUID            `json:"userId"`
	Username string               `json:"username"`
	Handle   string               `json:"handle"`
	Players  []domain.Participant `json:"players"`
}

type PlayerLeftPayload struct {
	UserID  uuid.UUID            `json:"userId"`
	Players []domain.Participant `json:"players"`
	Reason  string               `json:"reason,omitempty"` // "forfeit" when leaving an active battle
}

type BattleLeftPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type ReadyToStartPayload struct {
	Message string `json:"message"`
}

type BattleStartedPayload struct {
	Problem  *domain.Problem `json:"problem"`
	Duration int             `json:"duration"`
	EndTime  time.Time       `json:"endTime"`
}

type BattleTimerPayload struct {
	Remaining int `json:"remaining"` // seconds
	Elapsed   int `json:"elapsed"`   // seconds
}

type BattleEndedPayload struct {
	Winner  *domain.Winner `json:"winner"`
	Battle  *domain.Battle `json:"battle"`
	Reason  string         `json:"reason,omitempty"` // "solved" or "forfeit"
	Message string         `json:"message,omitempty"`
}

type BattleDrawPayload struct {
	Message string         `json:"message"`
	Battle  *domain.Battle `json:"battle"`
}

type RoomClosedPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type BattleDeletedPayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type MatchmakingJoinedPayload struct {
	Message   string `json:"message"`
	QueueSize int    `json:"queueSize"`
}

type MatchmakingWaitingPayload struct {
	Message       string `json:"message"`
	QueueSize     int    `json:"queueSize"`
	WaitingTime   int    `json:"waitingTime"`   // seconds
	RemainingTime int    `json:"remainingTime"` // seconds until search timeout
}

type OpponentInfo struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

type MatchFoundPayload struct {
	Message  string         `json:"message"`
	Battle   *domain.Battle `json:"battle"`
	Opponent OpponentInfo   `json:"opponent"`
}

type MatchmakingTimeoutPayload struct {
	Message       string `json:"message"`
	TryAgainLater bool   `json:"tryAgainLater"`
}

type MatchmakingLeftPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
)

type MessageType string

// Client to Server commands. Server to Client event names live in the battle
// package alongside their payloads.
const (
	MessageTypeCreateBattle     MessageType = "CREATE_BATTLE"
	MessageTypeJoinBattle       MessageType = "JOIN_BATTLE"
	MessageTypeLeaveBattle      MessageType = "LEAVE_BATTLE"
	MessageTypeDeleteBattle     MessageType = "DELETE_BATTLE"
	MessageTypeRemovePlayer     MessageType = "REMOVE_PLAYER"
	MessageTypeSyncState        MessageType = "SYNC_STATE"
	MessageTypeJoinMatchmaking  MessageType = "JOIN_MATCHMAKING"
	MessageTypeLeaveMatchmaking MessageType = "LEAVE_MATCHMAKING"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// eventMessage wraps an outbound event in the wire envelope.
func eventMessage(ev battle.Event) ([]byte, error) {
	payloadBytes, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:      MessageType(ev.Type),
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Client to Server payloads

type CreateBattlePayload struct {
	Mode     domain.BattleMode `json:"mode"`
	Duration int               `json:"duration"` // minutes
	Rating   int               `json:"rating"`
	Topics   []string          `json:"topics"`
}

type JoinBattlePayload struct {
	RoomID string `json:"roomId"`
}

type LeaveBattlePayload struct {
	RoomID string `json:"roomId"`
}

type DeleteBattlePayload struct {
	RoomID string `json:"roomId"`
}

type RemovePlayerPayload struct {
	RoomID string    `json:"roomId"`
	UserID uuid.UUID `json:"userId"`
}

type SyncStatePayload struct {
	RoomID string `json:"roomId"`
}

type JoinMatchmakingPayload struct {
	Rating   int `json:"rating"`
	Duration int `json:"duration"` // minutes
}

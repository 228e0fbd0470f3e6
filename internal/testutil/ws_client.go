package testutil

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/websocket"
)

// WSClient is a test WebSocket client
type WSClient struct {
	t        *testing.T
	conn     *gorillaWS.Conn
	messages chan *websocket.Message
	errors   chan error
	done     chan struct{}
	mu       sync.Mutex
}

// NewWSClient creates a new WebSocket test client
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()

	dialer := gorillaWS.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second

	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to websocket: %v", err)
	}

	client := &WSClient{
		t:        t,
		conn:     conn,
		messages: make(chan *websocket.Message, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}

	go client.readPump()

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func (c *WSClient) readPump() {
	defer close(c.messages)
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				select {
				case <-c.done:
					return
				case c.errors <- err:
				}
				return
			}

			var msg websocket.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.errors <- err
				continue
			}

			select {
			case c.messages <- &msg:
			case <-c.done:
				return
			}
		}
	}
}

// Close closes the WebSocket connection gracefully
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))
		c.conn.Close()
	}
}

func (c *WSClient) send(msgType websocket.MessageType, payload interface{}) {
	c.t.Helper()

	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		c.t.Fatalf("failed to build message: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("failed to marshal message: %v", err)
	}

	c.mu.Lock()
	err = c.conn.WriteMessage(gorillaWS.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		c.t.Fatalf("failed to send message: %v", err)
	}
}

// CreateBattle sends a CREATE_BATTLE command
func (c *WSClient) CreateBattle(mode domain.BattleMode, duration, rating int, topics ...string) {
	c.send(websocket.MessageTypeCreateBattle, websocket.CreateBattlePayload{
		Mode:     mode,
		Duration: duration,
		Rating:   rating,
		Topics:   topics,
	})
}

// JoinBattle sends a JOIN_BATTLE command
func (c *WSClient) JoinBattle(roomID string) {
	c.send(websocket.MessageTypeJoinBattle, websocket.JoinBattlePayload{RoomID: roomID})
}

// LeaveBattle sends a LEAVE_BATTLE command
func (c *WSClient) LeaveBattle(roomID string) {
	c.send(websocket.MessageTypeLeaveBattle, websocket.LeaveBattlePayload{RoomID: roomID})
}

// DeleteBattle sends a DELETE_BATTLE command
func (c *WSClient) DeleteBattle(roomID string) {
	c.send(websocket.MessageTypeDeleteBattle, websocket.DeleteBattlePayload{RoomID: roomID})
}

// SyncState sends a SYNC_STATE command
func (c *WSClient) SyncState(roomID string) {
	c.send(websocket.MessageTypeSyncState, websocket.SyncStatePayload{RoomID: roomID})
}

// JoinMatchmaking sends a JOIN_MATCHMAKING command
func (c *WSClient) JoinMatchmaking(rating, duration int) {
	c.send(websocket.MessageTypeJoinMatchmaking, websocket.JoinMatchmakingPayload{
		Rating:   rating,
		Duration: duration,
	})
}

// LeaveMatchmaking sends a LEAVE_MATCHMAKING command
func (c *WSClient) LeaveMatchmaking() {
	c.send(websocket.MessageTypeLeaveMatchmaking, nil)
}

// ExpectMessage waits for a message of the specified type, skipping others
// (like BATTLE_TIMER or BATTLE_LIST_UPDATED noise).
func (c *WSClient) ExpectMessage(msgType string, timeout time.Duration) *websocket.Message {
	c.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg == nil {
				c.t.Fatalf("connection closed while waiting for %s", msgType)
			}
			if string(msg.Type) == msgType {
				return msg
			}
		case err := <-c.errors:
			c.t.Fatalf("error while waiting for %s: %v", msgType, err)
		case <-deadline:
			c.t.Fatalf("timeout waiting for message type %s", msgType)
		}
	}
}

// ExpectBattleCreated waits for and decodes a BATTLE_CREATED message
func (c *WSClient) ExpectBattleCreated(timeout time.Duration) *battle.BattleCreatedPayload {
	c.t.Helper()

	msg := c.ExpectMessage(battle.EventBattleCreated, timeout)

	var payload battle.BattleCreatedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode battle created payload: %v", err)
	}
	return &payload
}

// ExpectBattleStarted waits for and decodes a BATTLE_STARTED message
func (c *WSClient) ExpectBattleStarted(timeout time.Duration) *battle.BattleStartedPayload {
	c.t.Helper()

	msg := c.ExpectMessage(battle.EventBattleStarted, timeout)

	var payload battle.BattleStartedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode battle started payload: %v", err)
	}
	return &payload
}

// ExpectBattleEnded waits for and decodes a BATTLE_ENDED message
func (c *WSClient) ExpectBattleEnded(timeout time.Duration) *battle.BattleEndedPayload {
	c.t.Helper()

	msg := c.ExpectMessage(battle.EventBattleEnded, timeout)

	var payload battle.BattleEndedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode battle ended payload: %v", err)
	}
	return &payload
}

// ExpectError waits for and decodes an ERROR message
func (c *WSClient) ExpectError(timeout time.Duration) *battle.ErrorPayload {
	c.t.Helper()

	msg := c.ExpectMessage(battle.EventError, timeout)

	var payload battle.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.t.Fatalf("failed to decode error payload: %v", err)
	}
	return &payload
}

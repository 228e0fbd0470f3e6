// Package websocket is the event gateway: it owns the live connections,
// routes inbound commands to the battle engine and the matchmaking queue, and
// fans outbound events to room subscribers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/matchmaking"
	"github.com/codeclash/codeclash-server/internal/repository"
)

// Hub tracks connections and room subscriptions. Routing state is guarded by
// its own mutex; a user may hold several connections (tabs), and every
// connection of a subscribed user receives that room's events.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	byUser    map[uuid.UUID]map[*Client]bool
	rooms     map[string]map[uuid.UUID]bool // roomID -> subscribed userIDs
	userRooms map[uuid.UUID]map[string]bool
	stopped   bool

	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	done       chan struct{} // closed when Run() exits

	engine *battle.Engine
	queue  *matchmaking.Queue
	users  repository.UserRepository
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[uuid.UUID]map[*Client]bool),
		rooms:      make(map[string]map[uuid.UUID]bool),
		userRooms:  make(map[uuid.UUID]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetEngine and SetQueue wire the hub's collaborators after construction; the
// engine and queue are built against the hub's Gateway surface, so the hub
// has to exist first.
func (h *Hub) SetEngine(engine *battle.Engine) { h.engine = engine }

func (h *Hub) SetQueue(queue *matchmaking.Queue) { h.queue = queue }

func (h *Hub) SetUsers(users repository.UserRepository) { h.users = users }

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			h.stopped = true
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*Client]bool)
			h.byUser = make(map[uuid.UUID]map[*Client]bool)
			h.rooms = make(map[string]map[uuid.UUID]bool)
			h.userRooms = make(map[uuid.UUID]map[string]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if !h.stopped {
				h.clients[client] = true
				if h.byUser[client.userID] == nil {
					h.byUser[client.userID] = make(map[*Client]bool)
				}
				h.byUser[client.userID][client] = true
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.disconnect(client)
		}
	}
}

// Stop gracefully shuts down the hub. It blocks until Run() has exited.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	close(h.stop)
	<-h.done
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.unregister <- client:
	default:
		// Hub stopped between check and send.
	}
}

// disconnect drops a client and, when it was the user's last connection,
// applies leave semantics to every room the user was in and pulls them out of
// the matchmaking queue.
func (h *Hub) disconnect(client *Client) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	client.Close()

	delete(h.byUser[client.userID], client)
	lastConn := len(h.byUser[client.userID]) == 0
	if lastConn {
		delete(h.byUser, client.userID)
	}

	var rooms []string
	if lastConn {
		for roomID := range h.userRooms[client.userID] {
			rooms = append(rooms, roomID)
		}
	}
	h.mu.Unlock()

	if !lastConn {
		return
	}

	log.Info().Str("username", client.username).Msg("user disconnected")

	ctx := context.Background()
	for _, roomID := range rooms {
		h.engine.Disconnect(ctx, roomID, client.userID)
	}
	h.queue.Dequeue(client.userID)
}

// Gateway implementation

func (h *Hub) Subscribe(userID uuid.UUID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uuid.UUID]bool)
	}
	h.rooms[roomID][userID] = true
	if h.userRooms[userID] == nil {
		h.userRooms[userID] = make(map[string]bool)
	}
	h.userRooms[userID][roomID] = true
}

func (h *Hub) Unsubscribe(userID uuid.UUID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(userID, roomID)
}

func (h *Hub) unsubscribeLocked(userID uuid.UUID, roomID string) {
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if rooms, ok := h.userRooms[userID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.userRooms, userID)
		}
	}
}

func (h *Hub) ToRoom(roomID string, ev battle.Event) {
	data, err := eventMessage(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal room event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[roomID] {
		for client := range h.byUser[userID] {
			client.deliver(data)
		}
	}
}

func (h *Hub) ToUser(userID uuid.UUID, ev battle.Event) {
	data, err := eventMessage(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal user event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		client.deliver(data)
	}
}

func (h *Hub) All(ev battle.Event) {
	data, err := eventMessage(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal broadcast event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.deliver(data)
	}
}

func (h *Hub) CloseRoom(roomID, reason string) {
	h.ToRoom(roomID, battle.Event{
		Type: battle.EventRoomClosed,
		Payload: battle.RoomClosedPayload{
			Message: "This battle room has been closed",
			Reason:  reason,
		},
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for userID := range h.rooms[roomID] {
		h.unsubscribeLocked(userID, roomID)
	}
}

// Command routing

func (h *Hub) handleCommand(c *Client, msg *Message) {
	ctx := context.Background()

	switch msg.Type {
	case MessageTypeCreateBattle:
		var payload CreateBattlePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid create battle payload")
			return
		}
		b, err := h.engine.CreateBattle(ctx, battle.CreateBattleInput{
			Mode:     payload.Mode,
			Duration: payload.Duration,
			Rating:   payload.Rating,
			Topics:   payload.Topics,
			UserID:   c.userID,
			Username: c.username,
			Handle:   c.handle,
		})
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.sendEvent(battle.Event{Type: battle.EventBattleCreated, Payload: battle.BattleCreatedPayload{Battle: b}})

	case MessageTypeJoinBattle:
		var payload JoinBattlePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid join battle payload")
			return
		}
		b, err := h.engine.JoinBattle(ctx, payload.RoomID, c.userID, c.username, c.handle)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.sendEvent(battle.Event{Type: battle.EventBattleJoined, Payload: battle.BattleJoinedPayload{Battle: b}})

	case MessageTypeLeaveBattle:
		var payload LeaveBattlePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid leave battle payload")
			return
		}
		if err := h.engine.LeaveBattle(ctx, payload.RoomID, c.userID); err != nil {
			c.sendDomainError(err)
			return
		}
		c.sendEvent(battle.Event{Type: battle.EventBattleLeft, Payload: battle.BattleLeftPayload{
			RoomID:  payload.RoomID,
			Message: "You left the battle",
		}})

	case MessageTypeDeleteBattle:
		var payload DeleteBattlePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid delete battle payload")
			return
		}
		if err := h.engine.DeleteBattle(ctx, payload.RoomID, c.userID); err != nil {
			c.sendDomainError(err)
			return
		}
		c.sendEvent(battle.Event{Type: battle.EventBattleDeleted, Payload: battle.BattleDeletedPayload{
			RoomID:  payload.RoomID,
			Message: "Battle deleted",
		}})

	case MessageTypeRemovePlayer:
		var payload RemovePlayerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid remove player payload")
			return
		}
		if err := h.engine.RemovePlayer(ctx, payload.RoomID, c.userID, payload.UserID); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeSyncState:
		var payload SyncStatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid sync state payload")
			return
		}
		b, err := h.engine.Snapshot(ctx, payload.RoomID)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		c.sendEvent(battle.Event{Type: battle.EventBattleJoined, Payload: battle.BattleJoinedPayload{Battle: b}})

	case MessageTypeJoinMatchmaking:
		var payload JoinMatchmakingPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("INVALID_PAYLOAD", "Invalid matchmaking payload")
			return
		}
		if busy, err := h.engine.InOpenBattle(ctx, c.userID); err != nil {
			c.sendDomainError(err)
			return
		} else if busy {
			c.sendDomainError(domain.ErrAlreadyInBattle)
			return
		}
		// Matching bands on the user's current score, so fetch it fresh.
		user, err := h.users.GetByID(ctx, c.userID)
		if err != nil {
			c.sendDomainError(err)
			return
		}
		ticket := &domain.Ticket{
			UserID:          c.userID,
			Username:        c.username,
			Handle:          c.handle,
			Rating:          user.Score,
			PreferredRating: payload.Rating,
			Duration:        payload.Duration,
		}
		if err := h.queue.Enqueue(ctx, ticket); err != nil {
			c.sendDomainError(err)
		}

	case MessageTypeLeaveMatchmaking:
		h.queue.Dequeue(c.userID)

	default:
		c.sendError("UNKNOWN_COMMAND", "Unknown command type")
	}
}

// sendDomainError maps sentinel domain errors to stable error codes.
func (c *Client) sendDomainError(err error) {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrBattleNotFound):
		code = "BATTLE_NOT_FOUND"
	case errors.Is(err, domain.ErrBattleFull):
		code = "BATTLE_FULL"
	case errors.Is(err, domain.ErrBattleAlreadyStarted):
		code = "BATTLE_ALREADY_STARTED"
	case errors.Is(err, domain.ErrNotInBattle):
		code = "NOT_IN_BATTLE"
	case errors.Is(err, domain.ErrNotHost):
		code = "NOT_HOST"
	case errors.Is(err, domain.ErrAlreadyInBattle):
		code = "ALREADY_IN_BATTLE"
	case errors.Is(err, domain.ErrHandleRequired):
		code = "HANDLE_REQUIRED"
	case errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidRating):
		code = "INVALID_SETTINGS"
	case errors.Is(err, domain.ErrJudgeUnavailable), errors.Is(err, domain.ErrNoProblemFound):
		code = "EXTERNAL_SERVICE_ERROR"
	}
	c.sendError(code, err.Error())
}

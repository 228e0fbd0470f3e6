package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// APIClient handles HTTP communication with the backend
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Response types matching backend

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type AuthResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RegisterUser creates a new user account with a generated Codeforces handle
func (c *APIClient) RegisterUser(baseName string) (*User, string, error) {
	suffix := time.Now().UnixNano() % 100000
	username := fmt.Sprintf("%s_%d", baseName, suffix)

	body := map[string]string{
		"username":         username,
		"email":            fmt.Sprintf("%s@example.com", username),
		"password":         "testpassword123",
		"codeforcesHandle": fmt.Sprintf("tourist_%d", suffix),
	}

	resp, err := c.post("/api/v1/auth/register", body, "")
	if err != nil {
		return nil, "", fmt.Errorf("register request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("register failed (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}

	return &result.User, result.AccessToken, nil
}

func (c *APIClient) post(path string, body interface{}, token string) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

// WSSession is a websocket connection speaking the server's message envelope
type WSSession struct {
	conn *websocket.Conn
}

type wireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Connect opens an authenticated websocket session
func (c *APIClient) Connect(token string) (*WSSession, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &WSSession{conn: conn}, nil
}

func (s *WSSession) Close() {
	s.conn.Close()
}

func (s *WSSession) send(msgType string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteJSON(wireMessage{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UnixMilli(),
	})
}

// CreateBattle sends CREATE_BATTLE and waits for the room code
func (s *WSSession) CreateBattle(mode string, duration, rating int) (string, error) {
	err := s.send("CREATE_BATTLE", map[string]interface{}{
		"mode":     mode,
		"duration": duration,
		"rating":   rating,
	})
	if err != nil {
		return "", err
	}

	msg, err := s.waitFor("BATTLE_CREATED", 10*time.Second)
	if err != nil {
		return "", err
	}

	var payload struct {
		Battle struct {
			RoomID string `json:"roomId"`
		} `json:"battle"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return "", err
	}
	return payload.Battle.RoomID, nil
}

// JoinBattle sends JOIN_BATTLE and waits for confirmation
func (s *WSSession) JoinBattle(roomID string) error {
	if err := s.send("JOIN_BATTLE", map[string]string{"roomId": roomID}); err != nil {
		return err
	}
	_, err := s.waitFor("BATTLE_JOINED", 10*time.Second)
	return err
}

// JoinMatchmaking sends JOIN_MATCHMAKING
func (s *WSSession) JoinMatchmaking(rating, duration int) error {
	if err := s.send("JOIN_MATCHMAKING", map[string]int{
		"rating":   rating,
		"duration": duration,
	}); err != nil {
		return err
	}
	_, err := s.waitFor("MATCHMAKING_JOINED", 10*time.Second)
	return err
}

func (s *WSSession) waitFor(msgType string, timeout time.Duration) (*wireMessage, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.conn.SetReadDeadline(deadline)
		var msg wireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, err
		}
		if msg.Type == "ERROR" {
			return nil, fmt.Errorf("server error: %s", string(msg.Payload))
		}
		if msg.Type == msgType {
			return &msg, nil
		}
	}
	return nil, fmt.Errorf("timed out waiting for %s", msgType)
}

// WatchUntil prints events until the given type arrives
func (s *WSSession) WatchUntil(msgType string) {
	s.conn.SetReadDeadline(time.Time{})
	for {
		var msg wireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			fmt.Printf("connection closed: %v\n", err)
			return
		}
		fmt.Printf("  [%s] %s\n", msg.Type, string(msg.Payload))
		if msg.Type == msgType {
			return
		}
	}
}

// Stream prints every event until the connection drops
func (s *WSSession) Stream() {
	s.conn.SetReadDeadline(time.Time{})
	for {
		var msg wireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		fmt.Printf("  [%s] %s\n", msg.Type, string(msg.Payload))
	}
}

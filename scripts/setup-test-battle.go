package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const apiBase = "http://localhost:8080/api/v1"

type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Handle   string `json:"codeforcesHandle"`
	Token    string `json:"token"`
	UserID   string `json:"userId"`
}

type RegisterResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	AccessToken string `json:"accessToken"`
}

type wireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func registerUser(username, handle, password string) (*User, error) {
	body, _ := json.Marshal(map[string]string{
		"username":         username,
		"email":            username + "@example.com",
		"password":         password,
		"codeforcesHandle": handle,
	})

	resp, err := http.Post(apiBase+"/auth/register", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registration failed (%d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	return &User{
		Username: result.User.Username,
		Password: password,
		Handle:   handle,
		Token:    result.AccessToken,
		UserID:   result.User.ID,
	}, nil
}

func connect(token string) (*websocket.Conn, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, err
	}
	wsURL := "ws://" + u.Host + "/ws?token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func send(conn *websocket.Conn, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wireMessage{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// waitFor reads messages until it sees the wanted type, surfacing server
// errors instead of hanging on them.
func waitFor(conn *websocket.Conn, msgType string) (json.RawMessage, error) {
	deadline := time.Now().Add(10 * time.Second)
	conn.SetReadDeadline(deadline)
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", msgType, err)
		}
		if msg.Type == "ERROR" {
			return nil, fmt.Errorf("server error while waiting for %s: %s", msgType, string(msg.Payload))
		}
		if msg.Type == msgType {
			conn.SetReadDeadline(time.Time{})
			return msg.Payload, nil
		}
	}
}

func createBattle(conn *websocket.Conn) (string, error) {
	err := send(conn, "CREATE_BATTLE", map[string]interface{}{
		"mode":     "duo",
		"duration": 30,
		"rating":   1200,
		"topics":   []string{},
	})
	if err != nil {
		return "", err
	}

	payload, err := waitFor(conn, "BATTLE_CREATED")
	if err != nil {
		return "", err
	}

	var result struct {
		Battle struct {
			RoomID string `json:"roomId"`
		} `json:"battle"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("decode failed: %w", err)
	}
	return result.Battle.RoomID, nil
}

func joinBattle(conn *websocket.Conn, roomID string) error {
	err := send(conn, "JOIN_BATTLE", map[string]string{"roomId": roomID})
	if err != nil {
		return err
	}
	_, err = waitFor(conn, "BATTLE_JOINED")
	return err
}

func generateUsername(index int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	random := make([]byte, 4)
	for i := range random {
		random[i] = letters[rand.Intn(len(letters))]
	}
	return fmt.Sprintf("test_%d_%d_%s", index, time.Now().Unix(), string(random))
}

func main() {
	rand.Seed(time.Now().UnixNano())

	guests := 0
	if len(os.Args) > 1 && os.Args[1] == "--full" {
		guests = 1
	}

	fmt.Println("Setting up test battle...")

	password := "testpassword123"
	var users []*User

	fmt.Printf("\nRegistering %d users...\n", guests+1)
	for i := 1; i <= guests+1; i++ {
		username := generateUsername(i)
		user, err := registerUser(username, "tourist", password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to register user %d: %v\n", i, err)
			os.Exit(1)
		}
		users = append(users, user)
		fmt.Printf("  ✓ User %d: %s\n", i, user.Username)
	}

	// Battles live as long as a member holds a connection, so the script
	// keeps every socket open until interrupted.
	fmt.Println("\nCreating battle...")
	hostConn, err := connect(users[0].Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect host: %v\n", err)
		os.Exit(1)
	}
	defer hostConn.Close()

	roomID, err := createBattle(hostConn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create battle: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  ✓ Battle created: %s\n", roomID)

	for i := 1; i <= guests; i++ {
		conn, err := connect(users[i].Token)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect user %d: %v\n", i+1, err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := joinBattle(conn, roomID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to join user %d: %v\n", i+1, err)
			os.Exit(1)
		}
		fmt.Printf("  ✓ User %d joined\n", i+1)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("TEST BATTLE SETUP COMPLETE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Println("\nBattle Info:")
	fmt.Printf("  Room:    %s\n", roomID)
	fmt.Printf("  URL:     http://localhost:3000/battle/%s\n", roomID)

	fmt.Println("\nUsers (all use password: testpassword123):")
	for i, user := range users {
		fmt.Printf("  User %d: %s\n", i+1, user.Username)
	}

	output := map[string]interface{}{
		"battle": map[string]string{
			"roomId": roomID,
			"url":    fmt.Sprintf("http://localhost:3000/battle/%s", roomID),
		},
		"users": users,
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("JSON OUTPUT (for scripts):")
	fmt.Println(strings.Repeat("=", 60))
	jsonOutput, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonOutput))

	fmt.Println("\nHolding connections open. Press Ctrl+C to tear down.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

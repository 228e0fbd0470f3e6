package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/codeclash/codeclash-server/internal/domain"
)

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	username string
	email    string
	password string
	handle   string
	score    int
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	suffix := uuid.New().String()[:8]
	return &UserBuilder{
		username: fmt.Sprintf("testuser_%s", suffix),
		email:    fmt.Sprintf("testuser_%s@example.com", suffix),
		password: "testpassword123",
		handle:   fmt.Sprintf("cf_%s", suffix),
	}
}

func (b *UserBuilder) WithUsername(username string) *UserBuilder {
	b.username = username
	return b
}

func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

func (b *UserBuilder) WithHandle(handle string) *UserBuilder {
	b.handle = handle
	return b
}

func (b *UserBuilder) WithScore(score int) *UserBuilder {
	b.score = score
	return b
}

// Build creates the user in the database and returns the user with the raw password
func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) (*domain.User, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Username:     b.username,
		Email:        b.email,
		PasswordHash: string(hashedPassword),
		Handle:       b.handle,
		Score:        b.score,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return user, b.password
}

// AuthResponse matches the API auth response
type AuthResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// BuildAndAuthenticate creates a user via API and returns the user and access token
func (b *UserBuilder) BuildAndAuthenticate(t *testing.T, ts *TestServer) (*domain.User, string) {
	t.Helper()

	reqBody := map[string]string{
		"username":         b.username,
		"email":            b.email,
		"password":         b.password,
		"codeforcesHandle": b.handle,
	}
	body, _ := json.Marshal(reqBody)

	resp, err := http.Post(ts.APIURL("/auth/register"), "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	userID, _ := uuid.Parse(authResp.User.ID)
	user := &domain.User{
		ID:       userID,
		Username: authResp.User.Username,
		Handle:   b.handle,
	}

	return user, authResp.AccessToken
}

// BattleBuilder creates test battles with a builder pattern
type BattleBuilder struct {
	creator      *domain.User
	mode         domain.BattleMode
	duration     int
	rating       int
	topics       []string
	status       domain.BattleStatus
	participants []*domain.User
}

// NewBattleBuilder creates a new BattleBuilder with default values
func NewBattleBuilder() *BattleBuilder {
	return &BattleBuilder{
		mode:     domain.ModeDuo,
		duration: 15,
		rating:   1200,
		status:   domain.BattleStatusWaiting,
	}
}

func (b *BattleBuilder) WithCreator(user *domain.User) *BattleBuilder {
	b.creator = user
	return b
}

func (b *BattleBuilder) WithMode(mode domain.BattleMode) *BattleBuilder {
	b.mode = mode
	return b
}

func (b *BattleBuilder) WithDuration(minutes int) *BattleBuilder {
	b.duration = minutes
	return b
}

func (b *BattleBuilder) WithRating(rating int) *BattleBuilder {
	b.rating = rating
	return b
}

func (b *BattleBuilder) WithTopics(topics ...string) *BattleBuilder {
	b.topics = topics
	return b
}

func (b *BattleBuilder) WithStatus(status domain.BattleStatus) *BattleBuilder {
	b.status = status
	return b
}

// WithParticipants adds users beyond the creator as joined participants.
func (b *BattleBuilder) WithParticipants(users ...*domain.User) *BattleBuilder {
	b.participants = append(b.participants, users...)
	return b
}

// Build creates the battle with its participants in the database
func (b *BattleBuilder) Build(t *testing.T, db *gorm.DB) *domain.Battle {
	t.Helper()

	if b.creator == nil {
		user, _ := NewUserBuilder().Build(t, db)
		b.creator = user
	}

	battle := &domain.Battle{
		ID:            uuid.New(),
		RoomID:        generateRoomCode(),
		Mode:          b.mode,
		Duration:      b.duration,
		ProblemRating: b.rating,
		Topics:        b.topics,
		CreatedBy:     b.creator.ID,
		Status:        b.status,
		CreatedAt:     time.Now(),
	}
	battle.AddParticipant(b.creator.ID, b.creator.Username, b.creator.Handle)
	for _, u := range b.participants {
		battle.AddParticipant(u.ID, u.Username, u.Handle)
	}

	if err := db.Create(battle).Error; err != nil {
		t.Fatalf("failed to create battle: %v", err)
	}

	return battle
}

func generateRoomCode() string {
	return uuid.New().String()[:6]
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

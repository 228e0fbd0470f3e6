package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/codeclash/codeclash-server/internal/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	AddScore(ctx context.Context, id uuid.UUID, delta int) error
	Leaderboard(ctx context.Context, limit int) ([]*domain.User, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *domain.UserSession) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSession, error)
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// HistoryFilter narrows a user's battle history query.
type HistoryFilter string

const (
	HistoryAll     HistoryFilter = "all"
	HistoryCreated HistoryFilter = "created"
	HistoryJoined  HistoryFilter = "joined"
)

type BattleRepository interface {
	Create(ctx context.Context, battle *domain.Battle) error
	GetByRoomID(ctx context.Context, roomID string) (*domain.Battle, error)
	Update(ctx context.Context, battle *domain.Battle) error
	Delete(ctx context.Context, roomID string) error
	AddParticipant(ctx context.Context, p *domain.Participant) error
	RemoveParticipant(ctx context.Context, battleID, userID uuid.UUID) error

	// ListOpen returns waiting and active battles, newest first.
	ListOpen(ctx context.Context) ([]*domain.Battle, error)
	// ListFinishedByUser returns finished/draw battles the user took part in,
	// newest first. A limit of 0 means no limit.
	ListFinishedByUser(ctx context.Context, userID uuid.UUID, filter HistoryFilter, limit int) ([]*domain.Battle, error)
}

type Repositories struct {
	User    UserRepository
	Session SessionRepository
	Battle  BattleRepository
}

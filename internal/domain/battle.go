package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BattleMode string

const (
	ModeDuo   BattleMode = "duo"
	ModeTrio  BattleMode = "trio"
	ModeSquad BattleMode = "squad"
)

// Capacity returns the fixed participant capacity for the mode, or 0 for an
// unknown mode.
func (m BattleMode) Capacity() int {
	switch m {
	case ModeDuo:
		return 2
	case ModeTrio:
		return 3
	case ModeSquad:
		return 4
	}
	return 0
}

func (m BattleMode) Valid() bool {
	return m.Capacity() > 0
}

type BattleStatus string

const (
	BattleStatusWaiting   BattleStatus = "waiting"
	BattleStatusActive    BattleStatus = "active"
	BattleStatusFinished  BattleStatus = "finished"
	BattleStatusDraw      BattleStatus = "draw"
	BattleStatusCancelled BattleStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s BattleStatus) Terminal() bool {
	return s == BattleStatusFinished || s == BattleStatusDraw || s == BattleStatusCancelled
}

// Problem is the judge-assigned task for a battle. It is opaque to the engine
// beyond these fields.
type Problem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
	URL       string   `json:"url"`
}

// Winner is a snapshot of the winning participant taken at resolution time, so
// it survives participant cleanup.
type Winner struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Handle   string    `json:"handle"`
}

type Battle struct {
	ID            uuid.UUID                   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RoomID        string                      `json:"roomId" gorm:"uniqueIndex;not null"`
	Mode          BattleMode                  `json:"mode" gorm:"not null;default:'duo'"`
	Duration      int                         `json:"duration" gorm:"not null"` // minutes
	ProblemRating int                         `json:"problemRating" gorm:"not null"`
	Topics        datatypes.JSONSlice[string] `json:"topics"`
	CreatedBy     uuid.UUID                   `json:"createdBy" gorm:"type:uuid;not null"`
	Status        BattleStatus                `json:"status" gorm:"not null;default:'waiting';index"`
	Problem       *Problem                    `json:"problem" gorm:"serializer:json"`
	StartTime     *time.Time                  `json:"startTime"`
	EndTime       *time.Time                  `json:"endTime"`
	Winner        *Winner                     `json:"winner" gorm:"serializer:json"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`

	// Relations
	Participants []Participant `json:"participants" gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`
	Creator      *User         `json:"creator,omitempty" gorm:"foreignKey:CreatedBy"`
}

// AddParticipant appends a participant iff the user is not already present and
// the battle is below mode capacity. Returns false without mutation otherwise.
func (b *Battle) AddParticipant(userID uuid.UUID, username, handle string) bool {
	if b.HasParticipant(userID) || len(b.Participants) >= b.Mode.Capacity() {
		return false
	}
	b.Participants = append(b.Participants, Participant{
		ID:       uuid.New(),
		BattleID: b.ID,
		UserID:   userID,
		Username: username,
		Handle:   handle,
		JoinedAt: time.Now(),
	})
	return true
}

// RemoveParticipant drops the participant for userID, if present.
func (b *Battle) RemoveParticipant(userID uuid.UUID) {
	kept := b.Participants[:0]
	for _, p := range b.Participants {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	b.Participants = kept
}

func (b *Battle) HasParticipant(userID uuid.UUID) bool {
	return b.ParticipantFor(userID) != nil
}

func (b *Battle) ParticipantFor(userID uuid.UUID) *Participant {
	for i := range b.Participants {
		if b.Participants[i].UserID == userID {
			return &b.Participants[i]
		}
	}
	return nil
}

// IsFull reports whether the battle has reached mode capacity.
func (b *Battle) IsFull() bool {
	return len(b.Participants) >= b.Mode.Capacity()
}

// Handles returns all participants' judge handles in join order.
func (b *Battle) Handles() []string {
	handles := make([]string, len(b.Participants))
	for i, p := range b.Participants {
		handles[i] = p.Handle
	}
	return handles
}

// Participant is one user's membership record within a battle.
type Participant struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BattleID uuid.UUID `json:"battleId" gorm:"type:uuid;not null;uniqueIndex:idx_battle_user"`
	UserID   uuid.UUID `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_battle_user"`
	Username string    `json:"username" gorm:"not null"`
	Handle   string    `json:"handle" gorm:"not null"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (Participant) TableName() string {
	return "battle_participants"
}

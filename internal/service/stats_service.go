package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/repository"
)

// StatsService derives leaderboard rows and per-user records from finished
// battles.
type StatsService struct {
	userRepo   repository.UserRepository
	battleRepo repository.BattleRepository
}

func NewStatsService(userRepo repository.UserRepository, battleRepo repository.BattleRepository) *StatsService {
	return &StatsService{userRepo: userRepo, battleRepo: battleRepo}
}

type UserStats struct {
	UserID  uuid.UUID `json:"userId"`
	Total   int       `json:"totalBattles"`
	Wins    int       `json:"wins"`
	Losses  int       `json:"losses"`
	Draws   int       `json:"draws"`
	WinRate float64   `json:"winRate"` // percent of decided battles won
}

type LeaderboardEntry struct {
	Rank     int       `json:"rank"`
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Handle   string    `json:"codeforcesHandle,omitempty"`
	Score    int       `json:"score"`
	Wins     int       `json:"wins"`
	Losses   int       `json:"losses"`
	Draws    int       `json:"draws"`
	Form     []string  `json:"form"` // outcomes of the last battles, newest first: "W", "L", "D"
}

const formLength = 5

func (s *StatsService) Stats(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	battles, err := s.battleRepo.ListFinishedByUser(ctx, userID, repository.HistoryAll, 0)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{UserID: userID}
	for _, b := range battles {
		stats.Total++
		switch outcome(b, userID) {
		case "W":
			stats.Wins++
		case "L":
			stats.Losses++
		case "D":
			stats.Draws++
		}
	}

	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinRate = float64(stats.Wins) / float64(decided) * 100
	}
	return stats, nil
}

func (s *StatsService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	users, err := s.userRepo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i, user := range users {
		battles, err := s.battleRepo.ListFinishedByUser(ctx, user.ID, repository.HistoryAll, 0)
		if err != nil {
			return nil, err
		}

		entry := LeaderboardEntry{
			Rank:     i + 1,
			UserID:   user.ID,
			Username: user.Username,
			Handle:   user.Handle,
			Score:    user.Score,
			Form:     []string{},
		}
		for _, b := range battles {
			switch outcome(b, user.ID) {
			case "W":
				entry.Wins++
			case "L":
				entry.Losses++
			case "D":
				entry.Draws++
			}
			if len(entry.Form) < formLength {
				entry.Form = append(entry.Form, outcome(b, user.ID))
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// History returns a user's finished battles, optionally narrowed to those they
// created or those they joined.
func (s *StatsService) History(ctx context.Context, userID uuid.UUID, filter repository.HistoryFilter, limit int) ([]*domain.Battle, error) {
	return s.battleRepo.ListFinishedByUser(ctx, userID, filter, limit)
}

func outcome(b *domain.Battle, userID uuid.UUID) string {
	if b.Status == domain.BattleStatusDraw {
		return "D"
	}
	if b.Winner != nil && b.Winner.UserID == userID {
		return "W"
	}
	return "L"
}

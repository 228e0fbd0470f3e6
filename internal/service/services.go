package service

import (
	"github.com/codeclash/codeclash-server/internal/config"
	"github.com/codeclash/codeclash-server/internal/repository"
)

type Services struct {
	Auth  *AuthService
	Score *ScoreService
	Stats *StatsService
}

func NewServices(repos *repository.Repositories, cfg *config.Config) *Services {
	return &Services{
		Auth:  NewAuthService(repos.User, repos.Session, cfg),
		Score: NewScoreService(repos.User),
		Stats: NewStatsService(repos.User, repos.Battle),
	}
}

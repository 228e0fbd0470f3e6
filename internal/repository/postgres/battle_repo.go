package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/repository"
)

type battleRepository struct {
	db *gorm.DB
}

func NewBattleRepository(db *gorm.DB) *battleRepository {
	return &battleRepository{db: db}
}

func (r *battleRepository) Create(ctx context.Context, battle *domain.Battle) error {
	return r.db.WithContext(ctx).Create(battle).Error
}

func (r *battleRepository) GetByRoomID(ctx context.Context, roomID string) (*domain.Battle, error) {
	var battle domain.Battle
	err := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("battle_participants.joined_at ASC")
		}).
		First(&battle, "room_id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBattleNotFound
		}
		return nil, err
	}
	return &battle, nil
}

func (r *battleRepository) Update(ctx context.Context, battle *domain.Battle) error {
	return r.db.WithContext(ctx).Omit("Participants").Save(battle).Error
}

func (r *battleRepository) Delete(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var battle domain.Battle
		if err := tx.First(&battle, "room_id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBattleNotFound
			}
			return err
		}
		if err := tx.Delete(&domain.Participant{}, "battle_id = ?", battle.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&battle).Error
	})
}

func (r *battleRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *battleRepository) RemoveParticipant(ctx context.Context, battleID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&domain.Participant{}, "battle_id = ? AND user_id = ?", battleID, userID).Error
}

func (r *battleRepository) ListOpen(ctx context.Context) ([]*domain.Battle, error) {
	var battles []*domain.Battle
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("status IN ?", []domain.BattleStatus{domain.BattleStatusWaiting, domain.BattleStatusActive}).
		Order("created_at DESC").
		Find(&battles).Error
	if err != nil {
		return nil, err
	}
	return battles, nil
}

func (r *battleRepository) ListFinishedByUser(ctx context.Context, userID uuid.UUID, filter repository.HistoryFilter, limit int) ([]*domain.Battle, error) {
	terminal := []domain.BattleStatus{domain.BattleStatusFinished, domain.BattleStatusDraw}

	q := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN battle_participants ON battle_participants.battle_id = battles.id").
		Where("battles.status IN ?", terminal).
		Where("battle_participants.user_id = ?", userID)

	switch filter {
	case repository.HistoryCreated:
		q = q.Where("battles.created_by = ?", userID)
	case repository.HistoryJoined:
		q = q.Where("battles.created_by <> ?", userID)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}

	var battles []*domain.Battle
	if err := q.Order("battles.created_at DESC").Find(&battles).Error; err != nil {
		return nil, err
	}
	return battles, nil
}

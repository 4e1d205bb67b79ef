package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ludo-service/internal/model"
	"ludo-service/internal/service/game"
	appErr "ludo-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormSessionStore keeps sessions as versioned JSON rows.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Create(ctx context.Context, sess *game.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	row := model.GameSession{
		ID:               sess.ID,
		Variant:          string(sess.Variant),
		Phase:            string(sess.Phase),
		Stake:            sess.Stake,
		State:            datatypes.JSON(state),
		Version:          1,
		SettlementStatus: string(sess.SettlementStatus),
		Active:           sess.Active(),
		LastActivityAt:   sess.LastActivityAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormSessionStore) load(ctx context.Context, id string) (*model.GameSession, *game.Session, error) {
	var row model.GameSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, appErr.ErrSessionNotFound
		}
		return nil, nil, err
	}
	sess, err := decodeSession(row.State, row.SettlementLocked)
	if err != nil {
		return nil, nil, err
	}
	return &row, sess, nil
}

func (s *GormSessionStore) Load(ctx context.Context, id string) (*game.Session, error) {
	_, sess, err := s.load(ctx, id)
	return sess, err
}

func (s *GormSessionStore) Update(ctx context.Context, id string, mutate func(*game.Session) error) (*game.Session, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		row, sess, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(sess); err != nil {
			return nil, err
		}
		// the lock column is the only writer of this flag
		sess.SettlementLocked = row.SettlementLocked

		state, err := json.Marshal(sess)
		if err != nil {
			return nil, err
		}
		res := s.db.WithContext(ctx).Model(&model.GameSession{}).
			Where("id = ? AND version = ?", id, row.Version).
			Updates(map[string]interface{}{
				"state":             datatypes.JSON(state),
				"version":           row.Version + 1,
				"phase":             string(sess.Phase),
				"settlement_status": string(sess.SettlementStatus),
				"active":            sess.Active(),
				"last_activity_at":  sess.LastActivityAt,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return sess, nil
		}
	}
	return nil, appErr.ErrSessionConflict
}

func (s *GormSessionStore) AcquireSettlementLock(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.GameSession{}).
		Where("id = ? AND settlement_locked = ?", id, false).
		Update("settlement_locked", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&model.GameSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, appErr.ErrSessionNotFound
	}
	return false, nil
}

func (s *GormSessionStore) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.GameSession{}).
		Where("active = ?", true).
		Order("last_activity_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

package rake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ludo-service/internal/model"
	appErr "ludo-service/pkg/errors"

	"gorm.io/gorm"
)

const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
)

type Service struct {
	db       *gorm.DB
	fallback float64
	now      func() time.Time
}

type ListResult struct {
	Items []model.RakeRule
	Total int64
}

type MutationParams struct {
	Name        string
	MinStake    int64
	Rate        float64
	Status      string
	Remark      string
	EffectiveAt *time.Time
}

// NewService returns a rule store. fallback is the rate for stakes no
// enabled rule covers.
func NewService(db *gorm.DB, fallback float64) *Service {
	return &Service{db: db, fallback: fallback, now: time.Now}
}

func (s *Service) List(ctx context.Context, page, size int) (*ListResult, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	var total int64
	if err := s.db.WithContext(ctx).
		Model(&model.RakeRule{}).
		Count(&total).Error; err != nil {
		return nil, err
	}

	var items []model.RakeRule
	if total > 0 {
		offset := (page - 1) * size
		if err := s.db.WithContext(ctx).
			Model(&model.RakeRule{}).
			Order("id DESC").
			Limit(size).
			Offset(offset).
			Find(&items).Error; err != nil {
			return nil, err
		}
	}

	return &ListResult{Items: items, Total: total}, nil
}

func (s *Service) Create(ctx context.Context, params MutationParams) (*model.RakeRule, error) {
	params, err := normalize(params)
	if err != nil {
		return nil, err
	}
	rule := model.RakeRule{
		Name:        params.Name,
		MinStake:    params.MinStake,
		Rate:        params.Rate,
		Status:      params.Status,
		Remark:      params.Remark,
		EffectiveAt: params.EffectiveAt,
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) Update(ctx context.Context, id int64, params MutationParams) (*model.RakeRule, error) {
	params, err := normalize(params)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"name":         params.Name,
		"min_stake":    params.MinStake,
		"rate":         params.Rate,
		"status":       params.Status,
		"remark":       params.Remark,
		"effective_at": params.EffectiveAt,
	}

	result := s.db.WithContext(ctx).
		Model(&model.RakeRule{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, appErr.ErrRakeRuleNotFound
	}

	var rule model.RakeRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// RateFor returns the rate of the enabled, effective rule with the highest
// MinStake not above stake.
func (s *Service) RateFor(ctx context.Context, stake int64) (float64, error) {
	var rule model.RakeRule
	err := s.db.WithContext(ctx).
		Where("status = ? AND min_stake <= ?", StatusEnabled, stake).
		Where("effective_at IS NULL OR effective_at <= ?", s.now()).
		Order("min_stake DESC").
		Order("id DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.fallback, nil
	}
	if err != nil {
		return 0, err
	}
	return rule.Rate, nil
}

func normalize(params MutationParams) (MutationParams, error) {
	params.Name = strings.TrimSpace(params.Name)
	params.Remark = strings.TrimSpace(params.Remark)
	params.Status = strings.ToLower(strings.TrimSpace(params.Status))
	if params.Status == "" {
		params.Status = StatusEnabled
	}
	if params.Status != StatusEnabled && params.Status != StatusDisabled {
		return params, fmt.Errorf("%w: status must be enabled or disabled", appErr.ErrInvalidRakeRule)
	}
	if params.Rate < 0 || params.Rate >= 1 {
		return params, fmt.Errorf("%w: rate must be in [0, 1)", appErr.ErrInvalidRakeRule)
	}
	if params.MinStake < 0 {
		return params, fmt.Errorf("%w: minStake must not be negative", appErr.ErrInvalidRakeRule)
	}
	return params, nil
}

package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ludo-service/internal/service/game"
	"ludo-service/internal/service/table"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errQueueMemberNotFound = errors.New("queue member not found")

type Config struct {
	Variant             game.Variant
	Stakes              []int64
	QueueCapacity       int64
	QueueLockTTL        time.Duration
	QueueMemberTTL      time.Duration
	QueueTimeout        time.Duration
	MatchedLockTTL      time.Duration
	MatchedNotifyTTL    time.Duration
	MatcherInterval     time.Duration
	CandidateMultiplier int
}

func DefaultConfig() Config {
	return Config{
		Variant:             game.VariantLudo,
		Stakes:              []int64{100, 500, 1000},
		QueueCapacity:       200,
		QueueLockTTL:        10 * time.Second,
		QueueMemberTTL:      3 * time.Minute,
		QueueTimeout:        3 * time.Minute,
		MatchedLockTTL:      1 * time.Minute,
		MatchedNotifyTTL:    5 * time.Minute,
		MatcherInterval:     500 * time.Millisecond,
		CandidateMultiplier: 3,
	}
}

type BalanceReader interface {
	Available(ctx context.Context, userID int64) (int64, error)
}

type SessionCreator interface {
	Create(ctx context.Context, req table.CreateRequest) (*game.Snapshot, error)
}

type Service struct {
	rdb    *redis.Client
	wallet BalanceReader
	tables SessionCreator
	cfg    Config

	startOnce sync.Once
}

func NewService(rdb *redis.Client, wallet BalanceReader, tables SessionCreator, cfg Config) *Service {
	def := DefaultConfig()
	if !cfg.Variant.Valid() {
		cfg.Variant = def.Variant
	}
	if len(cfg.Stakes) == 0 {
		cfg.Stakes = def.Stakes
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.QueueLockTTL <= 0 {
		cfg.QueueLockTTL = def.QueueLockTTL
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = def.QueueTimeout
	}
	if cfg.QueueMemberTTL < cfg.QueueTimeout {
		cfg.QueueMemberTTL = cfg.QueueTimeout
	}
	if cfg.MatchedLockTTL <= 0 {
		cfg.MatchedLockTTL = def.MatchedLockTTL
	}
	if cfg.MatchedNotifyTTL <= 0 {
		cfg.MatchedNotifyTTL = def.MatchedNotifyTTL
	}
	if cfg.MatcherInterval <= 0 {
		cfg.MatcherInterval = def.MatcherInterval
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = def.CandidateMultiplier
	}
	return &Service{
		rdb:    rdb,
		wallet: wallet,
		tables: tables,
		cfg:    cfg,
	}
}

// Start runs one matcher per stake tier until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		for _, stake := range s.cfg.Stakes {
			go s.runMatcher(ctx, stake)
		}
	})
}

func (s *Service) Stakes() []int64 {
	return append([]int64(nil), s.cfg.Stakes...)
}

func (s *Service) JoinQueue(ctx context.Context, req JoinQueueRequest) (string, error) {
	if !s.validStake(req.Stake) {
		return "", appErr.ErrInvalidStake
	}

	balance, err := s.wallet.Available(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	if balance < req.Stake {
		return "", appErr.ErrInsufficientBalance
	}

	memberID := strconv.FormatInt(req.UserID, 10)
	for _, stake := range s.cfg.Stakes {
		if _, err := s.rdb.ZScore(ctx, buildQueueKey(stake), memberID).Result(); err == nil {
			return "", appErr.ErrAlreadyInQueue
		} else if err != redis.Nil {
			return "", err
		}
	}

	lockKey := buildQueueLockKey(req.UserID)
	gotLock, err := s.rdb.SetNX(ctx, lockKey, req.Stake, s.cfg.QueueLockTTL).Result()
	if err != nil {
		return "", err
	}
	if !gotLock {
		return "", appErr.ErrQueueProcessing
	}
	defer s.rdb.Del(ctx, lockKey)

	queueKey := buildQueueKey(req.Stake)
	size, err := s.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return "", err
	}
	if size >= s.cfg.QueueCapacity {
		return "", appErr.ErrQueueFull
	}

	member := queueMember{
		UserID:          req.UserID,
		Stake:           req.Stake,
		Name:            req.Name,
		IP:              req.IP,
		BalanceSnapshot: balance,
		JoinedAt:        time.Now(),
	}
	if err := s.saveQueueMember(ctx, member); err != nil {
		return "", err
	}
	s.rdb.Del(ctx, buildMatchNotifyKey(req.UserID))

	score := float64(member.JoinedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  score,
		Member: memberID,
	}).Err(); err != nil {
		s.removeQueueMember(ctx, member.Stake, member.UserID)
		return "", err
	}

	logger.Log.Info("user joined queue",
		zap.Int64("userID", req.UserID),
		zap.Int64("stake", req.Stake),
		zap.Float64("score", score),
	)
	return memberID, nil
}

func (s *Service) CancelQueue(ctx context.Context, req CancelQueueRequest) error {
	queueKey := buildQueueKey(req.Stake)
	memberID := strconv.FormatInt(req.UserID, 10)
	_, err := s.rdb.ZRem(ctx, queueKey, memberID).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	s.removeQueueMember(ctx, req.Stake, req.UserID)
	s.rdb.Del(ctx, buildMatchNotifyKey(req.UserID))

	reason := req.Reason
	if reason == "" {
		reason = "user"
	}
	logger.Log.Info("queue cancelled",
		zap.Int64("userID", req.UserID),
		zap.Int64("stake", req.Stake),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) GetStatus(ctx context.Context, userID, stake int64) (*StatusResult, error) {
	payloadStr, err := s.rdb.Get(ctx, buildMatchNotifyKey(userID)).Result()
	if err == nil {
		var payload matchNotifyPayload
		if jsonErr := json.Unmarshal([]byte(payloadStr), &payload); jsonErr == nil {
			return &StatusResult{
				Status:    QueueStatusMatched,
				Stake:     payload.Stake,
				SessionID: &payload.SessionID,
			}, nil
		}
	} else if err != redis.Nil {
		return nil, err
	}

	memberID := strconv.FormatInt(userID, 10)
	if _, err := s.rdb.ZScore(ctx, buildQueueKey(stake), memberID).Result(); err == nil {
		var joinedAt *time.Time
		if member, err := s.loadQueueMember(ctx, stake, userID); err == nil {
			joined := member.JoinedAt
			joinedAt = &joined
		}
		return &StatusResult{
			Status:   QueueStatusQueued,
			Stake:    stake,
			JoinedAt: joinedAt,
		}, nil
	} else if err != redis.Nil {
		return nil, err
	}

	return &StatusResult{
		Status: QueueStatusIdle,
		Stake:  stake,
	}, nil
}

func (s *Service) validStake(stake int64) bool {
	for _, tier := range s.cfg.Stakes {
		if tier == stake {
			return true
		}
	}
	return false
}

func (s *Service) saveQueueMember(ctx context.Context, member queueMember) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}
	key := buildQueueMemberKey(member.Stake, member.UserID)
	return s.rdb.Set(ctx, key, data, s.cfg.QueueMemberTTL).Err()
}

func (s *Service) loadQueueMember(ctx context.Context, stake, userID int64) (queueMember, error) {
	var member queueMember
	data, err := s.rdb.Get(ctx, buildQueueMemberKey(stake, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return member, errQueueMemberNotFound
		}
		return member, err
	}
	if err := json.Unmarshal([]byte(data), &member); err != nil {
		return member, err
	}
	return member, nil
}

func (s *Service) removeQueueMember(ctx context.Context, stake, userID int64) {
	s.rdb.Del(ctx, buildQueueMemberKey(stake, userID))
}

func (s *Service) cleanupExpiredQueue(ctx context.Context, stake int64) error {
	if s.cfg.QueueTimeout <= 0 {
		return nil
	}
	queueKey := buildQueueKey(stake)
	deadline := time.Now().Add(-s.cfg.QueueTimeout).UnixMilli()
	maxScore := strconv.FormatFloat(float64(deadline), 'f', 0, 64)

	members, err := s.rdb.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}

	for _, member := range members {
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		if err := s.CancelQueue(ctx, CancelQueueRequest{
			UserID: userID,
			Stake:  stake,
			Reason: "timeout",
		}); err != nil {
			logger.Log.Warn("queue timeout cancel failed",
				zap.Int64("userID", userID),
				zap.Int64("stake", stake),
				zap.Error(err),
			)
		}
	}
	return nil
}

func buildQueueKey(stake int64) string {
	return fmt.Sprintf("queue:%d", stake)
}

func buildQueueMemberKey(stake, userID int64) string {
	return fmt.Sprintf("queue:member:%d:%d", stake, userID)
}

func buildQueueLockKey(userID int64) string {
	return fmt.Sprintf("queue:lock:%d", userID)
}

func buildMatchNotifyKey(userID int64) string {
	return fmt.Sprintf("match:pending:%d", userID)
}

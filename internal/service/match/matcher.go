package match

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"ludo-service/internal/service/game"
	"ludo-service/internal/service/table"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"
	netutil "ludo-service/pkg/utils/net"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func (s *Service) runMatcher(ctx context.Context, stake int64) {
	logger.Log.Info("matcher started",
		zap.Int64("stake", stake),
		zap.String("variant", string(s.cfg.Variant)),
	)

	ticker := time.NewTicker(s.cfg.MatcherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("matcher stopped", zap.Int64("stake", stake))
			return
		case <-ticker.C:
			if err := s.tryCompose(ctx, stake); err != nil {
				logger.Log.Warn("matcher compose error",
					zap.Int64("stake", stake),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Service) tryCompose(ctx context.Context, stake int64) error {
	if err := s.cleanupExpiredQueue(ctx, stake); err != nil {
		logger.Log.Warn("queue cleanup error",
			zap.Int64("stake", stake),
			zap.Error(err),
		)
	}

	rangeEnd := int64(game.SeatCount*s.cfg.CandidateMultiplier - 1)
	members, err := s.rdb.ZRangeWithScores(ctx, buildQueueKey(stake), 0, rangeEnd).Result()
	if err != nil {
		return err
	}
	if len(members) < game.SeatCount {
		return nil
	}

	candidates := make([]queueMember, 0, len(members))
	for _, z := range members {
		member, _ := z.Member.(string)
		userID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		qm, err := s.loadQueueMember(ctx, stake, userID)
		if err != nil {
			if err == errQueueMemberNotFound {
				continue
			}
			return err
		}
		candidates = append(candidates, qm)
	}

	selected := selectPlayers(stake, game.SeatCount, candidates)
	if len(selected) < game.SeatCount {
		return nil
	}
	return s.composeSession(ctx, stake, selected)
}

// selectPlayers takes queue members in arrival order, skipping anyone who
// could not cover the stake or shares a /24 with an already chosen player.
func selectPlayers(stake int64, required int, candidates []queueMember) []queueMember {
	selected := make([]queueMember, 0, required)
	for _, candidate := range candidates {
		if len(selected) >= required {
			break
		}
		if candidate.BalanceSnapshot < stake {
			continue
		}
		if !passesNetwork(selected, candidate) {
			continue
		}
		selected = append(selected, candidate)
	}
	return selected
}

func passesNetwork(selected []queueMember, candidate queueMember) bool {
	for _, existing := range selected {
		if existing.UserID == candidate.UserID {
			return false
		}
		if netutil.SameSubnet24(existing.IP, candidate.IP) {
			return false
		}
	}
	return true
}

func (s *Service) composeSession(ctx context.Context, stake int64, players []queueMember) error {
	queueKey := buildQueueKey(stake)
	taken := make([]queueMember, 0, len(players))
	for _, player := range players {
		memberID := strconv.FormatInt(player.UserID, 10)
		removed, err := s.rdb.ZRem(ctx, queueKey, memberID).Result()
		if err != nil {
			s.requeue(ctx, stake, taken)
			return err
		}
		if removed == 0 {
			// another matcher or a cancel got there first
			s.requeue(ctx, stake, taken)
			return nil
		}
		taken = append(taken, player)
		s.rdb.Set(ctx, buildQueueLockKey(player.UserID), stake, s.cfg.MatchedLockTTL)
	}

	seats := make([]table.SeatRequest, len(players))
	for i, player := range players {
		seats[i] = table.SeatRequest{UserID: player.UserID, Name: player.Name, IP: player.IP}
	}
	snap, err := s.tables.Create(ctx, table.CreateRequest{
		Variant: s.cfg.Variant,
		Stake:   stake,
		Seats:   seats,
	})
	if err != nil {
		s.requeue(ctx, stake, players)
		return err
	}

	for _, player := range players {
		s.removeQueueMember(ctx, stake, player.UserID)
		s.rdb.Del(ctx, buildQueueLockKey(player.UserID))
	}

	data, _ := json.Marshal(matchNotifyPayload{Stake: stake, SessionID: snap.SessionID})
	for _, player := range players {
		s.rdb.Set(ctx, buildMatchNotifyKey(player.UserID), data, s.cfg.MatchedNotifyTTL)
	}

	logger.Log.Info("match composed",
		zap.Int64("stake", stake),
		zap.String("sessionID", snap.SessionID),
		zap.Int("players", len(players)),
	)
	return nil
}

// requeue puts players back at their original position, dropping anyone
// who can no longer cover the stake.
func (s *Service) requeue(ctx context.Context, stake int64, players []queueMember) {
	queueKey := buildQueueKey(stake)
	for _, player := range players {
		s.rdb.Del(ctx, buildQueueLockKey(player.UserID))
		balance, err := s.wallet.Available(ctx, player.UserID)
		if err != nil || balance < stake {
			s.removeQueueMember(ctx, stake, player.UserID)
			logger.Log.Info("player dropped from queue",
				zap.Int64("userID", player.UserID),
				zap.Int64("stake", stake),
				zap.Error(appErr.ErrInsufficientBalance),
			)
			continue
		}
		s.rdb.ZAdd(ctx, queueKey, redis.Z{
			Score:  float64(player.JoinedAt.UnixMilli()),
			Member: strconv.FormatInt(player.UserID, 10),
		})
	}
}

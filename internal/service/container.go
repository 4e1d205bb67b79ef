package service

import (
	"context"
	"fmt"
	"strings"

	"ludo-service/internal/config"
	"ludo-service/internal/repo"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/match"
	"ludo-service/internal/service/presence"
	"ludo-service/internal/service/rake"
	"ludo-service/internal/service/scheduler"
	"ludo-service/internal/service/settle"
	"ludo-service/internal/service/table"
	"ludo-service/internal/service/wallet"
	"ludo-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Container struct {
	Store     repo.SessionStore
	Wallet    *wallet.Service
	Rake      *rake.Service
	Settle    *settle.Service
	Scheduler *scheduler.Scheduler
	Watchdog  *scheduler.Watchdog
	Presence  *presence.Manager
	Tables    *table.Service
	// Match is nil when no redis client is configured.
	Match *match.Service

	db  *gorm.DB
	rdb *redis.Client
}

func NewContainer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*Container, error) {
	store, err := newSessionStore(cfg.Game, db, rdb)
	if err != nil {
		return nil, err
	}

	walletSvc := wallet.NewService(db)
	rakeSvc := rake.NewService(db, cfg.Game.RakeRate)
	settleSvc := settle.NewService(db, store, settle.Config{RakeRate: cfg.Game.RakeRate, Rates: rakeSvc})
	sched := scheduler.New(scheduler.Durations{
		RollDeadline: cfg.Game.RollDeadline,
		MoveDeadline: cfg.Game.MoveDeadline,
		AutoPlay:     cfg.Game.AutoPlayDelay,
	})
	pres := presence.NewManager(store, cfg.Game.DisconnectGrace)
	tables := table.NewService(table.Options{
		Store:    store,
		Engine:   game.NewEngine(nil),
		Wallet:   walletSvc,
		Settler:  settleSvc,
		Timers:   sched,
		Presence: pres,
	})
	sched.Bind(tables)
	pres.Bind(tables)

	c := &Container{
		Store:     store,
		Wallet:    walletSvc,
		Rake:      rakeSvc,
		Settle:    settleSvc,
		Scheduler: sched,
		Presence:  pres,
		Tables:    tables,
		Watchdog: scheduler.NewWatchdog(store, tables, scheduler.WatchdogConfig{
			Interval:       cfg.Game.WatchdogInterval,
			StallThreshold: cfg.Game.StallThreshold,
			JoinTimeout:    cfg.Game.JoinTimeout,
			TurnDeadline:   max(cfg.Game.RollDeadline, cfg.Game.MoveDeadline),
			Workers:        cfg.Game.WatchdogWorkers,
		}),
		db:  db,
		rdb: rdb,
	}

	if rdb != nil {
		matchCfg := match.DefaultConfig()
		matchCfg.Variant = game.Variant(cfg.Match.Variant)
		matchCfg.Stakes = cfg.Match.Stakes
		matchCfg.QueueCapacity = cfg.Match.QueueCapacity
		matchCfg.QueueTimeout = cfg.Match.QueueTimeout
		matchCfg.MatcherInterval = cfg.Match.Interval
		c.Match = match.NewService(rdb, walletSvc, tables, matchCfg)
	}
	return c, nil
}

func newSessionStore(cfg config.GameConfig, db *gorm.DB, rdb *redis.Client) (repo.SessionStore, error) {
	switch strings.ToLower(cfg.SessionStore) {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("session store redis requires a redis client")
		}
		return repo.NewRedisSessionStore(rdb, cfg.SessionTTL), nil
	case "", "database", "db":
		return repo.NewGormSessionStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported session store %q", cfg.SessionStore)
	}
}

// Start restores timers for sessions that survived a restart, then runs
// the watchdog and the matchers until ctx ends.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Tables.Recover(ctx); err != nil {
		logger.Log.Warn("session recovery incomplete", zap.Error(err))
	}
	go c.Watchdog.Run(ctx)
	if c.Match != nil {
		c.Match.Start(ctx)
	}
	return nil
}

// Close stops timers, waits for running settlements and releases
// connections.
func (c *Container) Close() error {
	c.Scheduler.Stop()
	c.Tables.Close()

	var err error
	if c.rdb != nil {
		err = multierr.Append(err, c.rdb.Close())
	}
	if c.db != nil {
		sqlDB, dbErr := c.db.DB()
		if dbErr != nil {
			err = multierr.Append(err, dbErr)
		} else {
			err = multierr.Append(err, sqlDB.Close())
		}
	}
	return err
}

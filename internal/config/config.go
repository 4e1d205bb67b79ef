package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Game     GameConfig     `mapstructure:"game"`
	Match    MatchConfig    `mapstructure:"match"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type GameConfig struct {
	SessionStore     string        `mapstructure:"sessionStore"` // redis, database
	RollDeadline     time.Duration `mapstructure:"rollDeadline"`
	MoveDeadline     time.Duration `mapstructure:"moveDeadline"`
	AutoPlayDelay    time.Duration `mapstructure:"autoPlayDelay"`
	DisconnectGrace  time.Duration `mapstructure:"disconnectGrace"`
	WatchdogInterval time.Duration `mapstructure:"watchdogInterval"`
	StallThreshold   time.Duration `mapstructure:"stallThreshold"`
	JoinTimeout      time.Duration `mapstructure:"joinTimeout"`
	WatchdogWorkers  int           `mapstructure:"watchdogWorkers"`
	RakeRate         float64       `mapstructure:"rakeRate"`
	SessionTTL       time.Duration `mapstructure:"sessionTTL"`
}

type MatchConfig struct {
	Stakes        []int64       `mapstructure:"stakes"`
	Variant       string        `mapstructure:"variant"`
	QueueCapacity int64         `mapstructure:"queueCapacity"`
	QueueTimeout  time.Duration `mapstructure:"queueTimeout"`
	Interval      time.Duration `mapstructure:"interval"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("jwt.expire", 72)
	v.SetDefault("game.sessionStore", "redis")
	v.SetDefault("game.rollDeadline", "8s")
	v.SetDefault("game.moveDeadline", "20s")
	v.SetDefault("game.autoPlayDelay", "1200ms")
	v.SetDefault("game.disconnectGrace", "10s")
	v.SetDefault("game.watchdogInterval", "5s")
	v.SetDefault("game.stallThreshold", "30s")
	v.SetDefault("game.joinTimeout", "2m")
	v.SetDefault("game.watchdogWorkers", 8)
	v.SetDefault("game.rakeRate", 0.10)
	v.SetDefault("game.sessionTTL", "24h")
	v.SetDefault("match.stakes", []int64{100, 500, 1000})
	v.SetDefault("match.variant", "ludo")
	v.SetDefault("match.queueCapacity", 200)
	v.SetDefault("match.queueTimeout", "3m")
	v.SetDefault("match.interval", "500ms")
}

// Default returns the configuration with every default applied and no file read.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode defaults, %v", err)
	}
	return &cfg
}

func LoadConfig(path string) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LUDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	GlobalConfig = &cfg
}

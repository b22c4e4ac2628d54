package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	SecretKey   string `mapstructure:"secret_key"`
	// Upstream is the protected backend traffic is relayed to once
	// admitted, e.g. http://localhost:3000.
	Upstream string `mapstructure:"upstream"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type AuditConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Topic   string `mapstructure:"topic"`
}

// AdmissionConfig carries the static rule, tier and route tables plus the
// knobs for the adaptive governor, penalty tracker, blacklist and cost
// ledger. Everything is resolved and validated once at startup; nothing in
// here is mutated at runtime.
type AdmissionConfig struct {
	Rules     []RuleConfig     `mapstructure:"rules"`
	Tiers     []TierConfig     `mapstructure:"tiers"`
	Routes    []RouteConfig    `mapstructure:"routes"`
	CostTiers map[string]int64 `mapstructure:"cost_tiers"`
	Governor  GovernorConfig   `mapstructure:"governor"`
	Penalty   PenaltyConfig    `mapstructure:"penalty"`
	Blacklist BlacklistConfig  `mapstructure:"blacklist"`
	Store     StoreConfig      `mapstructure:"store"`
}

type RuleConfig struct {
	Name          string `mapstructure:"name"`
	KeyScheme     string `mapstructure:"key_scheme"`
	Points        int64  `mapstructure:"points"`
	WindowSeconds int64  `mapstructure:"window_seconds"`
	BlockSeconds  int64  `mapstructure:"block_seconds"`
	SkipOnSuccess bool   `mapstructure:"skip_on_success"`
	SkipOnFailure bool   `mapstructure:"skip_on_failure"`
}

type TierConfig struct {
	Role        string       `mapstructure:"role"`
	Multiplier  float64      `mapstructure:"multiplier"`
	DailyBudget int64        `mapstructure:"daily_budget"`
	Overrides   []RuleConfig `mapstructure:"overrides"`
}

type RouteConfig struct {
	Method   string `mapstructure:"method"`
	Path     string `mapstructure:"path"`
	Rule     string `mapstructure:"rule"`
	CostTier string `mapstructure:"cost_tier"`
}

type GovernorConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type PenaltyConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	CounterTTL time.Duration `mapstructure:"counter_ttl"`
}

type BlacklistConfig struct {
	AutoThreshold   int64         `mapstructure:"auto_threshold"`
	AutoDuration    time.Duration `mapstructure:"auto_duration"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// StoreConfig tunes the circuit breaker guarding shared-store round trips.
type StoreConfig struct {
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	MaxFailures    uint32        `mapstructure:"max_failures"`
}

var globalConfig Config

func Load(configPath string) error {
	if err := loadConfigFile(configPath, "config", &globalConfig); err != nil {
		return err
	}
	setDefaultValues(&globalConfig)
	return nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(out, decodeHook); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func setDefaultValues(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Server.Upstream == "" {
		cfg.Server.Upstream = "http://localhost:3000"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if len(cfg.Admission.Rules) == 0 {
		cfg.Admission.Rules = DefaultRules()
	}
	if len(cfg.Admission.Tiers) == 0 {
		cfg.Admission.Tiers = DefaultTiers()
	}
	if len(cfg.Admission.Routes) == 0 {
		cfg.Admission.Routes = DefaultRoutes()
	}
	if len(cfg.Admission.CostTiers) == 0 {
		cfg.Admission.CostTiers = DefaultCostTiers()
	}
	if cfg.Admission.Governor.SampleInterval == 0 {
		cfg.Admission.Governor.SampleInterval = 15 * time.Second
	}
	if cfg.Admission.Penalty.BaseDelay == 0 {
		cfg.Admission.Penalty.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Admission.Penalty.MaxDelay == 0 {
		cfg.Admission.Penalty.MaxDelay = 5 * time.Second
	}
	if cfg.Admission.Penalty.CounterTTL == 0 {
		cfg.Admission.Penalty.CounterTTL = time.Hour
	}
	if cfg.Admission.Blacklist.AutoThreshold == 0 {
		cfg.Admission.Blacklist.AutoThreshold = 100
	}
	if cfg.Admission.Blacklist.AutoDuration == 0 {
		cfg.Admission.Blacklist.AutoDuration = 24 * time.Hour
	}
	if cfg.Admission.Blacklist.JanitorInterval == 0 {
		cfg.Admission.Blacklist.JanitorInterval = time.Minute
	}
	if cfg.Admission.Store.BreakerTimeout == 0 {
		cfg.Admission.Store.BreakerTimeout = 30 * time.Second
	}
	if cfg.Admission.Store.MaxFailures == 0 {
		cfg.Admission.Store.MaxFailures = 5
	}
}

func GetConfig() *Config {
	return &globalConfig
}

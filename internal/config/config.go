package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort    string        `mapstructure:"SERVER_PORT"`
	TickInterval  time.Duration `mapstructure:"TICK_INTERVAL"`
	MaxStepKm     float64       `mapstructure:"MAX_STEP_KM"`
	OriginLat     float64       `mapstructure:"ORIGIN_LAT"`
	OriginLon     float64       `mapstructure:"ORIGIN_LON"`
	HistorySize   int           `mapstructure:"HISTORY_SIZE"`
	Generate      bool          `mapstructure:"GENERATE"`
	ArtifactsDir  string        `mapstructure:"ARTIFACTS_DIR"`
	PostgresURL   string        `mapstructure:"POSTGRES_URL"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	AdminSecret   string        `mapstructure:"ADMIN_SECRET"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	LogFormat     string        `mapstructure:"LOG_FORMAT"`

	APIURL               string        `mapstructure:"API_URL"`
	EthRPCURL            string        `mapstructure:"ETH_RPC_URL"`
	WalletKeys           string        `mapstructure:"WALLET_KEYS"`
	DistanceThresholdKm  float64       `mapstructure:"DISTANCE_THRESHOLD_KM"`
	TokenContract        string        `mapstructure:"TOKEN_CONTRACT"`
	PlatformContract     string        `mapstructure:"PLATFORM_CONTRACT"`
	BodyWeightKg         float64       `mapstructure:"BODY_WEIGHT_KG"`
	ReconnectMaxInterval time.Duration `mapstructure:"RECONNECT_MAX_INTERVAL"`
}

var defaults = map[string]any{
	"SERVER_PORT":    ":5000",
	"TICK_INTERVAL":  "10s",
	"MAX_STEP_KM":    0.1,
	"ORIGIN_LAT":     51.169392,
	"ORIGIN_LON":     71.449074,
	"HISTORY_SIZE":   60,
	"GENERATE":       true,
	"ARTIFACTS_DIR":  "./build/contracts",
	"POSTGRES_URL":   "",
	"REDIS_ADDR":     "",
	"REDIS_PASSWORD": "",
	"ADMIN_SECRET":   "dev-secret-change-me",
	"LOG_LEVEL":      "info",
	"LOG_FORMAT":     "console",

	"API_URL":                "http://localhost:5000",
	"ETH_RPC_URL":            "http://localhost:7545",
	"WALLET_KEYS":            "",
	"DISTANCE_THRESHOLD_KM":  10.0,
	"TOKEN_CONTRACT":         "RunToken",
	"PLATFORM_CONTRACT":      "RunToEarn",
	"BODY_WEIGHT_KG":         70.0,
	"RECONNECT_MAX_INTERVAL": "30s",
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		cfg = fallback()
	}
	return cfg
}

// fallback decodes only the defaults when an environment override cannot be parsed.
func fallback() Config {
	d := viper.New()
	for key, value := range defaults {
		d.SetDefault(key, value)
	}
	var cfg Config
	_ = d.Unmarshal(&cfg)
	return cfg
}

func (c Config) WalletKeyList() []string {
	var keys []string
	for _, k := range strings.Split(c.WalletKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if c.MaxStepKm <= 0 {
		errs = append(errs, errors.New("MAX_STEP_KM must be positive"))
	}
	if c.OriginLat < -90 || c.OriginLat > 90 || c.OriginLon < -180 || c.OriginLon > 180 {
		errs = append(errs, errors.New("origin out of range"))
	}
	if c.DistanceThresholdKm <= 0 {
		errs = append(errs, errors.New("DISTANCE_THRESHOLD_KM must be positive"))
	}
	return errors.Join(errs...)
}

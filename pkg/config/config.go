package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Imputation ImputationConfig
	Metrics    MetricsConfig
	LogLevel   string
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

func (d DatabaseConfig) ConnectionString() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig configures the run lock. An empty Addr disables locking.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockKey  string
	LockTTL  time.Duration
}

// KafkaConfig configures run event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers   []string
	TopicRuns string
}

type ImputationConfig struct {
	LookbackDays    int
	MinLookbackDays int
	DefaultStart    int
	DefaultEnd      int
	TimeZone        string
	Workers         int
	Daemon          bool
	DailyTime       string
	Targets         []Target
	Thresholds      ThresholdConfig
}

// Target is an explicit (client, location) pair to process.
type Target struct {
	Client   string `toml:"client"`
	Location string `toml:"location"`
}

type ThresholdConfig struct {
	MinHistory       int
	OrderOfMagnitude float64
	MeanFraction     float64
	SigmaLimit       float64
	InsideShareMin   float64
	InsideShareMax   float64
	AbsoluteFloor    float64
}

type MetricsConfig struct {
	PushgatewayURL string
	ListenAddr     string
}

type targetsFile struct {
	Targets []Target `toml:"targets"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvAsInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "nodehub"),
			Password:   getEnv("DB_PASSWORD", "nodehub"),
			DBName:     getEnv("DB_NAME", "nodehub"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "nodehub.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockKey:  getEnv("REDIS_LOCK_KEY", "flow_imputer:run_lock"),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 2*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:   splitList(getEnv("KAFKA_BROKERS", "")),
			TopicRuns: getEnv("KAFKA_TOPIC_RUNS", "peopleflow.imputation.runs"),
		},
		Imputation: ImputationConfig{
			LookbackDays:    getEnvAsInt("IMPUTATION_LOOKBACK_DAYS", 60),
			MinLookbackDays: getEnvAsInt("IMPUTATION_MIN_LOOKBACK_DAYS", 28),
			DefaultStart:    getEnvAsInt("IMPUTATION_DEFAULT_START_HOUR", 9),
			DefaultEnd:      getEnvAsInt("IMPUTATION_DEFAULT_END_HOUR", 18),
			TimeZone:        getEnv("IMPUTATION_TIMEZONE", "UTC"),
			Workers:         getEnvAsInt("IMPUTATION_WORKERS", 1),
			Daemon:          getEnvAsBool("IMPUTATION_DAEMON", false),
			DailyTime:       getEnv("IMPUTATION_DAILY_TIME", "02:30"),
			Thresholds: ThresholdConfig{
				MinHistory:       getEnvAsInt("DETECT_MIN_HISTORY", 3),
				OrderOfMagnitude: getEnvAsFloat("DETECT_ORDER_OF_MAGNITUDE_RATIO", 0.1),
				MeanFraction:     getEnvAsFloat("DETECT_MEAN_FRACTION", 0.2),
				SigmaLimit:       getEnvAsFloat("DETECT_SIGMA_LIMIT", 3),
				InsideShareMin:   getEnvAsFloat("DETECT_INSIDE_SHARE_MIN", 0.3),
				InsideShareMax:   getEnvAsFloat("DETECT_INSIDE_SHARE_MAX", 0.9),
				AbsoluteFloor:    getEnvAsFloat("DETECT_ABSOLUTE_FLOOR", 10),
			},
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("METRICS_PUSHGATEWAY_URL", ""),
			ListenAddr:     getEnv("METRICS_LISTEN_ADDR", ":9108"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	targets, err := ParseTargets(getEnv("IMPUTATION_TARGETS", ""))
	if err != nil {
		return nil, err
	}
	if path := getEnv("IMPUTATION_TARGETS_FILE", ""); path != "" {
		fromFile, err := LoadTargetsFile(path)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fromFile...)
	}
	config.Imputation.Targets = targets

	return config, nil
}

// ParseTargets parses "client:location,client:location".
func ParseTargets(value string) ([]Target, error) {
	var targets []Target
	for _, item := range splitList(value) {
		client, location, ok := strings.Cut(item, ":")
		client, location = strings.TrimSpace(client), strings.TrimSpace(location)
		if !ok || client == "" || location == "" {
			return nil, fmt.Errorf("invalid target %q (expected client:location)", item)
		}
		targets = append(targets, Target{Client: client, Location: location})
	}
	return targets, nil
}

// LoadTargetsFile reads a TOML file holding [[targets]] tables.
func LoadTargetsFile(path string) ([]Target, error) {
	var file targetsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read targets file %s: %w", path, err)
	}
	for i, t := range file.Targets {
		if t.Client == "" || t.Location == "" {
			return nil, fmt.Errorf("targets file %s: entry %d needs client and location", path, i+1)
		}
	}
	return file.Targets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

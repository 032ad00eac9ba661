package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string

	ProblemSeedFile    string
	MessageOverrideDir string

	PistonURL          string
	PistonRunTimeout   time.Duration
	PistonCompileLimit time.Duration
	PistonRetry        int
	JudgeCasePause     time.Duration

	SweepInterval time.Duration

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	BusDriver string
	AMQPURL   string

	AllowedDurations []int
	DefaultDuration  int
}

const (
	BusMemory = "memory"
	BusAMQP   = "amqp"
)

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:           ":3111",
		PistonURL:          "https://emkc.org/api/v2/piston",
		PistonRunTimeout:   3 * time.Second,
		PistonCompileLimit: 10 * time.Second,
		PistonRetry:        2,
		JudgeCasePause:     250 * time.Millisecond,
		SweepInterval:      time.Minute,
		GeminiModel:        "gemini-2.5-flash",
		GeminiBaseURL:      "https://generativelanguage.googleapis.com",
		BusDriver:          BusMemory,
		AllowedDurations:   []int{5, 10, 20},
		DefaultDuration:    5,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.ProblemSeedFile = strings.TrimSpace(os.Getenv("PROBLEM_SEED_FILE"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_OVERRIDE_DIR"))

	if v := strings.TrimSpace(os.Getenv("PISTON_URL")); v != "" {
		cfg.PistonURL = strings.TrimRight(v, "/")
	}
	if n, ok := positiveInt("PISTON_RUN_TIMEOUT_MS"); ok {
		cfg.PistonRunTimeout = time.Duration(n) * time.Millisecond
	}
	if n, ok := positiveInt("PISTON_COMPILE_TIMEOUT_MS"); ok {
		cfg.PistonCompileLimit = time.Duration(n) * time.Millisecond
	}
	if v := strings.TrimSpace(os.Getenv("PISTON_RETRY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.PistonRetry = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("JUDGE_CASE_PAUSE_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.JudgeCasePause = time.Duration(n) * time.Millisecond
		}
	}
	if n, ok := positiveInt("SWEEP_INTERVAL_SEC"); ok {
		cfg.SweepInterval = time.Duration(n) * time.Second
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("GEMINI_MODEL")); v != "" {
		cfg.GeminiModel = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")); v != "" {
		cfg.GeminiBaseURL = strings.TrimRight(v, "/")
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BUS_DRIVER"))); v != "" {
		cfg.BusDriver = v
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_DURATIONS")); v != "" {
		var ds []int
		for _, p := range strings.Split(v, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n > 0 {
				ds = append(ds, n)
			}
		}
		if len(ds) > 0 {
			cfg.AllowedDurations = ds
			cfg.DefaultDuration = ds[0]
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.BusDriver {
	case BusMemory:
	case BusAMQP:
		if cfg.AMQPURL == "" {
			return nil, errors.New("AMQP_URL is required when BUS_DRIVER=amqp")
		}
	default:
		return nil, errors.New("BUS_DRIVER must be memory or amqp")
	}

	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (ingestion idempotency)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS
	AWSRegion    string
	SESFromEmail string

	// SQS queues, one URL per logical queue
	SQSRegion             string
	EventsQueueURL        string
	NotificationsQueueURL string
	ReportsQueueURL       string

	// Webhook delivery
	WebhookTimeout int // seconds

	// Retention and scheduling
	RetentionDays int
	ReportCron    string // daily report schedule
	CleanupCron   string // event cleanup schedule
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postgres",
		DBPassword: "",
		DBName:     "pulse",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@pulse.local",

		WebhookTimeout: 30,
		RetentionDays:  90,

		// Report runs before cleanup, distinct slots
		ReportCron:  "5 0 * * *",
		CleanupCron: "0 3 * * *",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_EVENTS_QUEUE_URL"); url != "" {
		cfg.EventsQueueURL = url
	}

	if url := os.Getenv("SQS_NOTIFICATIONS_QUEUE_URL"); url != "" {
		cfg.NotificationsQueueURL = url
	}

	if url := os.Getenv("SQS_REPORTS_QUEUE_URL"); url != "" {
		cfg.ReportsQueueURL = url
	}

	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	}

	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = d
	}

	if spec := os.Getenv("REPORT_CRON"); spec != "" {
		cfg.ReportCron = spec
	}

	if spec := os.Getenv("CLEANUP_CRON"); spec != "" {
		cfg.CleanupCron = spec
	}

	return cfg, nil
}

package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration of all pipeline services.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"OPS_PORT" default:"8080"`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		SessionFile string `envconfig:"TG_SESSION_FILE" default:"telegram_scraper_session.json"`
	} `envconfig:""`

	Channels        []string `envconfig:"TG_CHANNELS" default:"CheMed123,lobelia4cosmetics,tikvahpharma"`
	LimitPerChannel int      `envconfig:"TG_LIMIT_PER_CHANNEL" default:"100"`

	DataDir string `envconfig:"DATA_DIR" default:"data"`
	LogsDir string `envconfig:"LOGS_DIR" default:"logs"`

	PGDSN string `envconfig:"PG_DSN"`

	Detector struct {
		URL     string `envconfig:"DETECTOR_URL"`
		Timeout int    `envconfig:"DETECTOR_TIMEOUT_SECONDS" default:"30"`
	} `envconfig:""`

	OCR struct {
		URL     string `envconfig:"OCR_URL"`
		Timeout int    `envconfig:"OCR_TIMEOUT_SECONDS" default:"15"`
	} `envconfig:""`

	Enrich struct {
		Workers int `envconfig:"ENRICH_WORKERS" default:"4"`
	} `envconfig:""`

	Alerts struct {
		BotToken  string `envconfig:"ALERT_BOT_TOKEN"`
		ChatID    int64  `envconfig:"ALERT_CHAT_ID"`
		Threshold int64  `envconfig:"PRICE_EXTRACTION_THRESHOLD" default:"50"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`
	Queues    struct {
		RunEvents string `envconfig:"RUN_EVENTS_QUEUE" default:"pipeline_run_events"`
	} `envconfig:""`

	Schedule struct {
		DailyHour   int  `envconfig:"PIPELINE_DAILY_HOUR" default:"2"`
		DailyMinute int  `envconfig:"PIPELINE_DAILY_MINUTE" default:"0"`
		RunOnce     bool `envconfig:"PIPELINE_RUN_ONCE" default:"false"`
	} `envconfig:""`
}

// Load reads the configuration from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

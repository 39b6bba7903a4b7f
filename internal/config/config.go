package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/astro.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	OpenAIKey    string        `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel  string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	RenderBudget time.Duration `envconfig:"RENDER_BUDGET" default:"8s"`

	LockTTL     time.Duration `envconfig:"GEN_LOCK_TTL" default:"30s"`
	WaitTimeout time.Duration `envconfig:"GEN_WAIT_TIMEOUT" default:"10s"`

	AdviceWindow time.Duration `envconfig:"ADVICE_WINDOW" default:"24h"`

	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	BroadcastHourUTC int           `envconfig:"BROADCAST_HOUR_UTC" default:"6"`
	ReminderCutoff   string        `envconfig:"REMINDER_CUTOFF" default:"19:00"` // user-local HH:MM
	RetryDelay       time.Duration `envconfig:"RETRY_DELAY" default:"5m"`

	// TrialChatIDs get the full forecast without payment (testing).
	TrialChatIDs []int64 `envconfig:"TRIAL_CHAT_IDS"`

	DefaultTZ string `envconfig:"DEFAULT_TZ" default:"Europe/Moscow"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

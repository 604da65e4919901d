package app

import (
	"time"

	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/platform/envutil"
)

// Config collects every tunable of the chat core. All values come from
// the environment with working defaults.
type Config struct {
	LogMode   string
	ServerURL string

	// Persistence selects the state mirror: memory, file, sqlite, redis.
	Persistence    string
	StatePath      string
	RedisAddr      string
	RedisKeyPrefix string

	MessageCap int

	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ResponseTimeout      time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		LogMode:   envutil.GetEnv("CHAT_LOG_MODE", "development", log),
		ServerURL: envutil.GetEnv("CHAT_SERVER_URL", "ws://localhost:8080/ws", log),

		Persistence:    envutil.GetEnv("CHAT_PERSISTENCE", "memory", log),
		StatePath:      envutil.GetEnv("CHAT_STATE_PATH", "", log),
		RedisAddr:      envutil.GetEnv("CHAT_REDIS_ADDR", "", log),
		RedisKeyPrefix: envutil.GetEnv("CHAT_REDIS_KEY_PREFIX", "promptforge", log),

		MessageCap: envutil.GetEnvAsInt("CHAT_MESSAGE_CAP", 100, log),

		MaxReconnectAttempts: envutil.GetEnvAsInt("CHAT_MAX_RECONNECT_ATTEMPTS", 5, log),
		BaseReconnectDelay:   envutil.GetEnvAsDuration("CHAT_BASE_RECONNECT_DELAY", time.Second, log),
		HeartbeatInterval:    envutil.GetEnvAsDuration("CHAT_HEARTBEAT_INTERVAL", 30*time.Second, log),
		HeartbeatTimeout:     envutil.GetEnvAsDuration("CHAT_HEARTBEAT_TIMEOUT", 10*time.Second, log),
		ResponseTimeout:      envutil.GetEnvAsDuration("CHAT_RESPONSE_TIMEOUT", 30*time.Second, log),
	}
}

package config

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/pitchside/broadcast-service/internal/relay"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	pkgconfig "github.com/pitchside/broadcast-service/pkg/config"
	"github.com/pitchside/broadcast-service/pkg/database"
	"github.com/pitchside/broadcast-service/pkg/pubsub"
	"github.com/pitchside/broadcast-service/pkg/storage"
)

// Config is the broadcast service configuration.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	WebRTC    WebRTCConfig
	Signaling SignalingConfig
	RoomState RoomStateConfig
	Storage   StorageConfig
	Recorder  RecorderConfig
	PubSub    pubsub.Config
	Database  database.Config
	WebSocket relay.WebSocketConfig `mapstructure:"websocket"`
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type WebRTCConfig struct {
	ICEServers                []ICEServerConfig `mapstructure:"ice_servers"`
	NegotiationTimeoutSeconds int               `mapstructure:"negotiation_timeout_seconds"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// SignalingConfig selects the signaling channel backend.
type SignalingConfig struct {
	Type  string                       `mapstructure:"type"` // "memory" or "redis"
	Redis signaling.RedisChannelConfig `mapstructure:"redis"`
}

// RoomStateConfig selects the room store backend.
type RoomStateConfig struct {
	Type  string                     `mapstructure:"type"` // "memory" or "redis"
	Redis roomstate.RedisStoreConfig `mapstructure:"redis"`
}

type StorageConfig struct {
	Type  string              `mapstructure:"type"` // "local" or "s3"
	Local storage.LocalConfig `mapstructure:"local"`
	S3    storage.S3Config    `mapstructure:"s3"`
}

type RecorderConfig struct {
	SegmentIntervalSeconds int    `mapstructure:"segment_interval_seconds"`
	SpoolDir               string `mapstructure:"spool_dir"`
	UploadWorkers          int    `mapstructure:"upload_workers"`
	UploadQueueSize        int    `mapstructure:"upload_queue_size"`
	UploadMaxRetries       int    `mapstructure:"upload_max_retries"`
	URLTTLHours            int    `mapstructure:"url_ttl_hours"`
}

// SegmentInterval returns the configured rotation period.
func (c RecorderConfig) SegmentInterval() time.Duration {
	return time.Duration(c.SegmentIntervalSeconds) * time.Second
}

// NegotiationTimeout returns the configured answer wait bound.
func (c WebRTCConfig) NegotiationTimeout() time.Duration {
	return time.Duration(c.NegotiationTimeoutSeconds) * time.Second
}

// GetICEServers converts the configured servers to the transport type.
func (c WebRTCConfig) GetICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// Load reads the configuration from ./config/config.yaml and environment
// variables.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("webrtc.negotiation_timeout_seconds", 30)

	v.SetDefault("signaling.type", "memory")
	v.SetDefault("signaling.redis.address", "localhost:6379")
	v.SetDefault("signaling.redis.key_prefix", "signal:session:")

	v.SetDefault("roomstate.type", "memory")
	v.SetDefault("roomstate.redis.address", "localhost:6379")
	v.SetDefault("roomstate.redis.key_prefix", "room:session:")
	v.SetDefault("roomstate.redis.session_ttl", "24h")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./recordings")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_path_style", true)

	v.SetDefault("recorder.segment_interval_seconds", 900)
	v.SetDefault("recorder.spool_dir", "./spool")
	v.SetDefault("recorder.upload_workers", 4)
	v.SetDefault("recorder.upload_queue_size", 100)
	v.SetDefault("recorder.upload_max_retries", 3)
	v.SetDefault("recorder.url_ttl_hours", 24)

	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "broadcast-service")
	v.SetDefault("pubsub.kafka.partitions", 4)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./broadcast.db")

	v.SetDefault("websocket.max_message_size", 524288)
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.write_wait", "10s")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("signaling.redis.address", "REDIS_ADDRESS")
	v.BindEnv("signaling.redis.password", "REDIS_PASSWORD")
	v.BindEnv("roomstate.redis.address", "REDIS_ADDRESS")
	v.BindEnv("roomstate.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package config

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "15m").
// String fields may reference environment variables with ${VAR}; they are
// expanded before parsing so secrets stay out of the file.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Redis     *RedisConfig    `json:"redis,omitempty"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Channels  ChannelsConfig  `json:"channels"`
	Policy    PolicyConfig    `json:"policy"`
	API       APIConfig       `json:"api"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// StorageConfig selects the durable backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hearth.db" }
//	"storage": { "driver": "postgres", "path": "${DATABASE_URL}" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RedisConfig enables the shared throttle backend for multi-instance
// deployments. Omitted means the process-local counter.
type RedisConfig struct {
	Addrs    []string `json:"addrs"`
	Password string   `json:"password,omitempty"`
	Cluster  bool     `json:"cluster,omitempty"`
}

type DispatchConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	TickInterval string `json:"tick_interval,omitempty"`
	DigestAt     string `json:"digest_at,omitempty"` // "HH:MM"
	Workers      int    `json:"workers,omitempty"`
	TickTimeout  string `json:"tick_timeout,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

type ChannelsConfig struct {
	Local    LocalChannelConfig     `json:"local"`
	Ntfy     *NtfyChannelConfig     `json:"ntfy,omitempty"`
	WebPush  *WebPushChannelConfig  `json:"webpush,omitempty"`
	Telegram *TelegramChannelConfig `json:"telegram,omitempty"`
}

type LocalChannelConfig struct {
	CapPerRecipient int `json:"cap_per_recipient,omitempty"`
}

type NtfyChannelConfig struct {
	BaseURL     string `json:"base_url"`
	Topic       string `json:"topic"`
	AccessToken string `json:"access_token,omitempty"` // do not log
	Delay       string `json:"delay,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

type WebPushChannelConfig struct {
	VAPIDPublicKey  string `json:"vapid_public_key"`
	VAPIDPrivateKey string `json:"vapid_private_key"` // do not log
	Subscriber      string `json:"subscriber"`
	BadgeIcon       string `json:"badge_icon,omitempty"` // monochrome status-bar icon URL
	TTL             string `json:"ttl,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
}

type TelegramChannelConfig struct {
	Token   string `json:"token"` // do not log
	ChatID  int64  `json:"chat_id"`
	Timeout string `json:"timeout,omitempty"`
}

// PolicyConfig overrides the built-in policy table.
type PolicyConfig struct {
	// QuietHoursOverrides lists categories allowed through quiet hours.
	// Empty means the built-in defaults.
	QuietHoursOverrides []string `json:"quiet_hours_overrides,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8086"
}

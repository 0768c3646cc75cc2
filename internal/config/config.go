package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":2000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	TLSCertFile  string `envconfig:"TLS_CERT_FILE" default:""`
	TLSKeyFile   string `envconfig:"TLS_KEY_FILE" default:""`

	// Upstream session credential (HS256 JWT issued by the account service)
	SessionJWTSecret string   `envconfig:"SESSION_JWT_SECRET" default:""`
	AllowedOrigins   []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Terminal tokens
	TokenStore         string `envconfig:"TOKEN_STORE" default:"sql"`
	TokenTTL           string `envconfig:"TOKEN_TTL" default:"5m"`
	TokenSweepSchedule string `envconfig:"TOKEN_SWEEP_SCHEDULE" default:"@every 1m"`

	// Terminal sessions
	AuthTimeout       string `envconfig:"AUTH_TIMEOUT" default:"15s"`
	HeartbeatInterval string `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	WriteTimeout      string `envconfig:"WRITE_TIMEOUT" default:"10s"`
	InputRate         int    `envconfig:"INPUT_RATE" default:"200"`
	InputBurst        int    `envconfig:"INPUT_BURST" default:"200"`
	MaxMessageSize    int64  `envconfig:"MAX_MESSAGE_SIZE" default:"1048576"`
	Term              string `envconfig:"TERM" default:"xterm-color"`

	// Shell backend
	BackendAddr               string `envconfig:"BACKEND_ADDR" default:"localhost:2222"`
	BackendSecret             string `envconfig:"BACKEND_SECRET" default:"webterminal"`
	BackendCredential         string `envconfig:"BACKEND_CREDENTIAL" default:"secret"`
	BackendFernetKey          string `envconfig:"BACKEND_FERNET_KEY" default:""`
	BackendHostKeyFingerprint string `envconfig:"BACKEND_HOST_KEY_FINGERPRINT" default:""`
	BackendConnectTimeout     string `envconfig:"BACKEND_CONNECT_TIMEOUT" default:"30s"`
	BackendKeepaliveInterval  string `envconfig:"BACKEND_KEEPALIVE_INTERVAL" default:"30s"`
	BackendKeepaliveMax       int    `envconfig:"BACKEND_KEEPALIVE_MAX" default:"3"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "termgate.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "termgate.log")
	}
}

// Duration parses a duration setting, returning fallback (and logging) when
// the value is empty or malformed.
func Duration(name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("WARNING: invalid %s %q, using %s", name, value, fallback)
		return fallback
	}
	return d
}

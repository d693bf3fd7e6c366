package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is loaded from the environment at startup. The two identity
// names and their bcrypt password hashes define the entire allowlist;
// the process refuses to start without the hashes.
type Config struct {
	Port           string `envconfig:"PORT" default:"8080"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" required:"true"`
	WebDir         string `envconfig:"WEB_DIR" default:"web"`

	TokenSecret string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	User1Name string `envconfig:"CHAT_USER1_NAME" default:"Pavi"`
	User1Hash string `envconfig:"CHAT_USER1_PASSWORD_HASH" required:"true"`
	User2Name string `envconfig:"CHAT_USER2_NAME" default:"Manu"`
	User2Hash string `envconfig:"CHAT_USER2_PASSWORD_HASH" required:"true"`

	MaxLoginAttempts int           `envconfig:"MAX_LOGIN_ATTEMPTS" default:"5"`
	LoginCooldown    time.Duration `envconfig:"LOGIN_COOLDOWN" default:"15m"`
	TrustedProxies   string        `envconfig:"TRUSTED_PROXIES"`

	DeliveryDelay time.Duration `envconfig:"DELIVERY_DELAY" default:"100ms"`

	// InactivityTimeout enables auto-logout of idle connections when set
	// to a non-zero duration. Off unless explicitly configured.
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"0"`

	MaxUploadBytes int64 `envconfig:"MAX_FILE_SIZE" default:"2097152"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("TOKEN_SECRET must be at least 32 characters")
	}
	if c.User1Name == "" || c.User2Name == "" {
		return fmt.Errorf("identity names must not be empty")
	}
	if strings.EqualFold(c.User1Name, c.User2Name) {
		return fmt.Errorf("identity names must be distinct: %q", c.User1Name)
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	if c.DeliveryDelay < 0 || c.InactivityTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	return nil
}

// Package config loads client settings from the environment, an optional
// .env file and an optional YAML file named by MOBFLARE_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	LocationStatic = "static"
	LocationMQTT   = "mqtt"

	OutputNotify = "notify"
	OutputLED    = "led"
	OutputMQTT   = "mqtt"
)

type Config struct {
	Environment string `yaml:"environment"`

	Coordinator struct {
		ServerURI      string        `yaml:"server_uri"`
		SearchRadiusKm float64       `yaml:"search_radius_km"`
		ClientVersion  int           `yaml:"client_version"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"coordinator"`

	Location struct {
		Provider  string        `yaml:"provider"`
		Timeout   time.Duration `yaml:"timeout"`
		MaxAge    time.Duration `yaml:"max_age"`
		Latitude  float64       `yaml:"latitude"`
		Longitude float64       `yaml:"longitude"`
		MQTTTopic string        `yaml:"mqtt_topic"`
	} `yaml:"location"`

	Output struct {
		Kind        string `yaml:"kind"`
		LEDName     string `yaml:"led_name"`
		StrobeTopic string `yaml:"strobe_topic"`
	} `yaml:"output"`

	MQTTBroker  string `yaml:"mqtt_broker"`
	NATSURL     string `yaml:"nats_url"`
	GatewayAddr string `yaml:"gateway_addr"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	cfg := &Config{Environment: "production"}
	cfg.Coordinator.ServerURI = "http://rpc.mobflare.com:8080/mobflare"
	cfg.Coordinator.SearchRadiusKm = 2.0
	cfg.Coordinator.ClientVersion = 1
	cfg.Coordinator.PollInterval = time.Second
	cfg.Coordinator.RequestTimeout = 30 * time.Second
	cfg.Location.Provider = LocationStatic
	cfg.Location.Timeout = 120 * time.Second
	cfg.Location.MaxAge = 5 * time.Minute
	cfg.Location.MQTTTopic = "owntracks/+/+"
	cfg.Output.Kind = OutputNotify
	cfg.Output.StrobeTopic = "mobflare/strobe/set"
	cfg.MQTTBroker = "tcp://localhost:1883"
	return cfg
}

// Load reads .env, overlays the YAML file if MOBFLARE_CONFIG is set, then
// applies environment variables. Environment wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Default()
	if path := os.Getenv("MOBFLARE_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("MOBFLARE_ENV", cfg.Environment)

	cfg.Coordinator.ServerURI = getEnv("MOBFLARE_SERVER_URI", cfg.Coordinator.ServerURI)
	cfg.Coordinator.SearchRadiusKm = getEnvAsFloat("MOBFLARE_SEARCH_RADIUS_KM", cfg.Coordinator.SearchRadiusKm)
	cfg.Coordinator.ClientVersion = getEnvAsInt("MOBFLARE_CLIENT_VERSION", cfg.Coordinator.ClientVersion)
	cfg.Coordinator.PollInterval = getEnvAsDuration("MOBFLARE_POLL_INTERVAL", cfg.Coordinator.PollInterval)
	cfg.Coordinator.RequestTimeout = getEnvAsDuration("MOBFLARE_REQUEST_TIMEOUT", cfg.Coordinator.RequestTimeout)

	cfg.Location.Provider = getEnv("MOBFLARE_LOCATION_PROVIDER", cfg.Location.Provider)
	cfg.Location.Timeout = getEnvAsDuration("MOBFLARE_LOCATION_TIMEOUT", cfg.Location.Timeout)
	cfg.Location.MaxAge = getEnvAsDuration("MOBFLARE_LOCATION_MAX_AGE", cfg.Location.MaxAge)
	cfg.Location.Latitude = getEnvAsFloat("MOBFLARE_LATITUDE", cfg.Location.Latitude)
	cfg.Location.Longitude = getEnvAsFloat("MOBFLARE_LONGITUDE", cfg.Location.Longitude)
	cfg.Location.MQTTTopic = getEnv("MOBFLARE_MQTT_LOCATION_TOPIC", cfg.Location.MQTTTopic)

	cfg.Output.Kind = getEnv("MOBFLARE_OUTPUT", cfg.Output.Kind)
	cfg.Output.LEDName = getEnv("MOBFLARE_LED_NAME", cfg.Output.LEDName)
	cfg.Output.StrobeTopic = getEnv("MOBFLARE_MQTT_STROBE_TOPIC", cfg.Output.StrobeTopic)

	cfg.MQTTBroker = getEnv("MOBFLARE_MQTT_BROKER", cfg.MQTTBroker)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.GatewayAddr = getEnv("MOBFLARE_GATEWAY_ADDR", cfg.GatewayAddr)
}

func (c *Config) Validate() error {
	switch c.Location.Provider {
	case LocationStatic, LocationMQTT:
	default:
		return fmt.Errorf("unknown location provider %q", c.Location.Provider)
	}
	switch c.Output.Kind {
	case OutputNotify, OutputMQTT:
	case OutputLED:
		if c.Output.LEDName == "" {
			return fmt.Errorf("MOBFLARE_LED_NAME is required for the led output")
		}
	default:
		return fmt.Errorf("unknown output %q", c.Output.Kind)
	}
	if c.Coordinator.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Coordinator.PollInterval)
	}
	if c.Coordinator.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.Coordinator.RequestTimeout)
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("location timeout must be positive, got %s", c.Location.Timeout)
	}
	if c.Coordinator.SearchRadiusKm <= 0 {
		return fmt.Errorf("search radius must be positive, got %g", c.Coordinator.SearchRadiusKm)
	}
	return nil
}

// Development reports whether debug logging should be on.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed integer")
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed number")
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("1500ms", "2m").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed duration")
	}
	return defaultValue
}

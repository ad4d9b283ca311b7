package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"affiliates/internal/affiliate"
	"affiliates/internal/domain"
	"affiliates/internal/rules"
)

const fileName = "affiliates.yml"

// Config models affiliates.yml.
type Config struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	HTTP struct {
		Timeout   time.Duration `yaml:"timeout"`
		UserAgent string        `yaml:"user_agent"`
	} `yaml:"http"`
	Dispatch struct {
		Workers int `yaml:"workers"`
	} `yaml:"dispatch"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log        LogConfig                `yaml:"log"`
	Feed       FeedConfig               `yaml:"feed"`
	Rounding   map[string]int32         `yaml:"rounding,omitempty"`
	Rules      []rules.Rule             `yaml:"rules,omitempty"`
	Affiliates []domain.AffiliateConfig `yaml:"affiliates,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FeedConfig selects the broker order lifecycle events are consumed from.
type FeedConfig struct {
	Backend      string        `yaml:"backend"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	Kafka        KafkaConfig   `yaml:"kafka"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
	Topics  []string `yaml:"topics"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// Feed backends.
const (
	FeedNone  = ""
	FeedKafka = "kafka"
	FeedMQTT  = "mqtt"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with affiliates config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("config.http.timeout must not be negative")
	}
	if c.Dispatch.Workers < 0 {
		return fmt.Errorf("config.dispatch.workers must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config.log.format must be json or text")
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	for code, precision := range c.Rounding {
		if code == "" || precision < 0 {
			return fmt.Errorf("config.rounding has invalid entry %q: %d", code, precision)
		}
	}
	for _, rule := range c.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("config.rules: %w", err)
		}
	}
	seen := map[string]bool{}
	for i := range c.Affiliates {
		cfg := c.Affiliates[i]
		if seen[cfg.ID] {
			return fmt.Errorf("config.affiliates has duplicate id %s", cfg.ID)
		}
		seen[cfg.ID] = true
		if err := affiliate.ValidateConfig(&cfg); err != nil {
			return fmt.Errorf("config.affiliates[%d]: %w", i, err)
		}
	}
	return nil
}

func (f FeedConfig) validate() error {
	if f.PollInterval < 0 {
		return fmt.Errorf("config.feed.poll_interval must not be negative")
	}
	switch f.Backend {
	case FeedNone:
	case FeedKafka:
		if len(f.Kafka.Brokers) == 0 {
			return fmt.Errorf("config.feed.kafka.brokers is required")
		}
		if f.Kafka.GroupID == "" {
			return fmt.Errorf("config.feed.kafka.group_id is required")
		}
		if len(f.Kafka.Topics) == 0 {
			return fmt.Errorf("config.feed.kafka.topics is required")
		}
	case FeedMQTT:
		if f.MQTT.Broker == "" {
			return fmt.Errorf("config.feed.mqtt.broker is required")
		}
		if f.MQTT.Topic == "" {
			return fmt.Errorf("config.feed.mqtt.topic is required")
		}
	default:
		return fmt.Errorf("config.feed.backend must be kafka or mqtt")
	}
	return nil
}

// ValidatedAffiliates returns the seed affiliates with settings merged over defaults.
func (c *Config) ValidatedAffiliates() ([]domain.AffiliateConfig, error) {
	out := make([]domain.AffiliateConfig, 0, len(c.Affiliates))
	for i, cfg := range c.Affiliates {
		if err := affiliate.ValidateConfig(&cfg); err != nil {
			return nil, fmt.Errorf("config.affiliates[%d]: %w", i, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(serviceID string) string {
	return fmt.Sprintf(defaultTemplate, serviceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a service.
func Default(serviceID string) *Config {
	var cfg Config
	cfg.Service.ID = serviceID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(serviceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  id: %s

http:
  timeout: 10s
  user_agent: affiliates/1.0

dispatch:
  workers: 1

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: json

feed:
  backend: ""
  poll_interval: 1s
  batch_size: 20
  kafka:
    brokers: [localhost:9092]
    group_id: affiliates
    topics: [orders.lifecycle]
  mqtt:
    broker: localhost
    port: 1883
    client_id: affiliates
    topic: orders/lifecycle

# Suppress affiliates for matching orders. Expressions are JSONLogic evaluated
# against the order document.
rules: []
#  - name: employee orders
#    affiliates: [webgains_affiliate]
#    suppress_when: {"in": ["EMPLOYEE", {"var": "coupons"}]}

# Seed affiliates, imported with: affiliates affiliate import --from-config
affiliates: []
#  - id: cj
#    label: Conversant CJ
#    kind: conversant_cj_affiliate
#    enabled: true
#    settings:
#      container_tag_id: "12345"
#      action_id: "678"
#      cid: "999"
`

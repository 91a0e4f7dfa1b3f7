package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Web       WebConfig       `yaml:"web"`
	Broker    BrokerConfig    `yaml:"broker"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Client    ClientConfig    `yaml:"client"`
	Messaging MessagingConfig `yaml:"messaging"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gt=0,lte=65535"`
}

// BrokerConfig tunes the per-connection WebSocket pumps on the server side.
type BrokerConfig struct {
	SendBuffer   int           `yaml:"send_buffer" validate:"gt=0"`
	PingPeriod   time.Duration `yaml:"ping_period" validate:"gt=0"`
	WriteWait    time.Duration `yaml:"write_wait" validate:"gt=0"`
	MaxFrameSize int64         `yaml:"max_frame_size" validate:"gt=0"`
}

type TrackingConfig struct {
	MaxHistory int `yaml:"max_history" validate:"gte=0"`
}

type ClientConfig struct {
	ServerURL        string        `yaml:"server_url" validate:"required,url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	ReadWait         time.Duration `yaml:"read_wait" validate:"gt=0"` // keep above broker.ping_period
	Backoff          BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base   time.Duration `yaml:"base" validate:"gt=0"`
	Factor float64       `yaml:"factor" validate:"gte=1"`
	Max    time.Duration `yaml:"max" validate:"gtefield=Base"`
	Jitter float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// MessagingConfig selects the optional bus ingress. An empty backend disables it.
type MessagingConfig struct {
	Backend     string      `yaml:"backend" validate:"omitempty,oneof=mqtt kafka redis"`
	MQTT        MQTTConfig  `yaml:"mqtt"`
	Kafka       KafkaConfig `yaml:"kafka"`
	Redis       RedisConfig `yaml:"redis"`
	IngestTopic string      `yaml:"ingest_topic" validate:"required_with=Backend"`
	MirrorTopic string      `yaml:"mirror_topic" validate:"omitempty,nefield=IngestTopic"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Defaults() *Config {
	return &Config{
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8085,
		},
		Broker: BrokerConfig{
			SendBuffer:   64,
			PingPeriod:   30 * time.Second,
			WriteWait:    10 * time.Second,
			MaxFrameSize: 64 << 10,
		},
		Tracking: TrackingConfig{
			MaxHistory: 500,
		},
		Client: ClientConfig{
			ServerURL:        "ws://localhost:8085/ws",
			HandshakeTimeout: 10 * time.Second,
			ReadWait:         75 * time.Second,
			Backoff: BackoffConfig{
				Base:   time.Second,
				Factor: 2,
				Max:    30 * time.Second,
				Jitter: 0.2,
			},
		},
		Messaging: MessagingConfig{
			MQTT: MQTTConfig{
				Broker:   "localhost",
				Port:     1883,
				ClientID: "ordertrack",
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "ordertrack",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
			},
			IngestTopic: "ordertrack.locations",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks every section's constraints.
func (c *Config) Validate() error {
	for name, section := range map[string]any{
		"web":       c.Web,
		"broker":    c.Broker,
		"tracking":  c.Tracking,
		"client":    c.Client,
		"messaging": c.Messaging,
	} {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	if c.Client.ReadWait <= c.Broker.PingPeriod {
		return fmt.Errorf("config client: read_wait %v must exceed broker ping_period %v",
			c.Client.ReadWait, c.Broker.PingPeriod)
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }

package messaging

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"ordertrack/config"
)

type MessageHandler func(topic string, payload []byte)

// Client is the unified bus client (MQTT, Kafka or Redis pub/sub).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	mqttConn mqtt.Client
	kafka    *kafkaState
	redis    *redisState
	handlers map[string]MessageHandler
}

type kafkaState struct {
	readers map[string]*kafka.Reader
	writer  *kafka.Writer
}

type redisState struct {
	client *redis.Client
	subs   map[string]*redis.PubSub
}

func NewClient(cfg *config.MessagingConfig) *Client {
	return &Client{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
	}
}

// Backend returns the configured backend name, empty when messaging is disabled.
func (c *Client) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Backend
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	case "redis":
		return c.connectRedis()
	default:
		return fmt.Errorf("unknown messaging backend: %q", c.cfg.Backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		// The session is clean, so an auto-reconnect comes back with no
		// subscriptions.
		SetOnConnectHandler(func(client mqtt.Client) { c.resubscribeMQTT(client) })

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	log.Printf("messaging: mqtt connected to %s", broker)
	return nil
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// Verify at least one broker is reachable
	var conn *kafka.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, connErr = kafka.DialContext(ctx, "tcp", broker)
		cancel()
		if connErr == nil {
			log.Printf("messaging: kafka connected to %s", broker)
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}

	topics := []string{c.cfg.IngestTopic}
	if c.cfg.MirrorTopic != "" {
		topics = append(topics, c.cfg.MirrorTopic)
	}
	c.ensureTopics(conn, topics...)
	conn.Close()

	c.kafka = &kafkaState{
		readers: make(map[string]*kafka.Reader),
		writer: &kafka.Writer{
			Addr: kafka.TCP(c.cfg.Kafka.Brokers...),
			// Mirror messages are unkeyed, so they all hash to one
			// partition and keep relay order.
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
	return nil
}

// ensureTopics creates Kafka topics if they don't already exist. Errors are
// logged but not fatal since the broker may auto-create topics anyway.
func (c *Client) ensureTopics(conn *kafka.Conn, topics ...string) {
	if len(topics) == 0 {
		return
	}

	controller, err := conn.Controller()
	if err != nil {
		log.Printf("messaging: cannot find controller for topic creation: %v", err)
		return
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.Dial("tcp", controllerAddr)
	if err != nil {
		log.Printf("messaging: cannot connect to controller: %v", err)
		return
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		log.Printf("messaging: topic auto-create: %v", err)
	} else {
		log.Printf("messaging: ensured topics exist: %v", topics)
	}
}

func (c *Client) connectRedis() error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Address,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis connect: %w", err)
	}
	c.redis = &redisState{
		client: client,
		subs:   make(map[string]*redis.PubSub),
	}
	log.Printf("messaging: redis connected to %s", c.cfg.Redis.Address)
	return nil
}

// Publish sends payload to topic on the active backend.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case "kafka":
		if c.kafka == nil || c.kafka.writer == nil {
			return fmt.Errorf("kafka not connected")
		}
		return c.kafka.writer.WriteMessages(context.Background(), kafka.Message{
			Topic: topic,
			Value: payload,
		})
	case "redis":
		if c.redis == nil {
			return fmt.Errorf("redis not connected")
		}
		return c.redis.client.Publish(context.Background(), topic, payload).Err()
	default:
		return fmt.Errorf("unknown backend: %q", c.cfg.Backend)
	}
}

// PublishEnvelope encodes and publishes a protocol envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers handler for topic. The registration survives Reconfigure.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = handler

	switch c.cfg.Backend {
	case "mqtt":
		if c.mqttConn == nil {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Subscribe(topic, 1, mqttCallback(handler))
		token.Wait()
		return token.Error()
	case "kafka":
		if c.kafka == nil {
			return fmt.Errorf("kafka not connected")
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.cfg.Kafka.GroupID,
		})
		c.kafka.readers[topic] = reader
		go func() {
			for {
				msg, err := reader.ReadMessage(context.Background())
				if err != nil {
					return
				}
				handler(msg.Topic, msg.Value)
			}
		}()
		return nil
	case "redis":
		if c.redis == nil {
			return fmt.Errorf("redis not connected")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ps := c.redis.client.Subscribe(ctx, topic)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return fmt.Errorf("redis subscribe %s: %w", topic, err)
		}
		c.redis.subs[topic] = ps
		go func() {
			for msg := range ps.Channel() {
				handler(msg.Channel, []byte(msg.Payload))
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %q", c.cfg.Backend)
	}
}

type mqttSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// resubscribeMQTT restores every registered subscription on a fresh session.
// paho calls it on its own goroutine after each connect.
func (c *Client) resubscribeMQTT(client mqttSubscriber) {
	c.mu.RLock()
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for topic, h := range c.handlers {
		handlers[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range handlers {
		token := client.Subscribe(topic, 1, mqttCallback(h))
		if !token.WaitTimeout(10 * time.Second) {
			log.Printf("messaging: mqtt resubscribe %s: timed out", topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("messaging: mqtt resubscribe %s: %v", topic, err)
			continue
		}
		log.Printf("messaging: mqtt resubscribed %s", topic)
	}
}

func mqttCallback(handler MessageHandler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafka != nil
	case "redis":
		return c.redis != nil
	default:
		return false
	}
}

// Reconfigure closes the existing connection and reconnects with new config.
// All previously registered subscriptions are automatically restored.
func (c *Client) Reconfigure(cfg *config.MessagingConfig) error {
	c.Close()
	c.mu.Lock()
	c.cfg = cfg
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for k, v := range c.handlers {
		handlers[k] = v
	}
	c.mu.Unlock()

	if err := c.Connect(); err != nil {
		return err
	}

	for topic, handler := range handlers {
		if err := c.Subscribe(topic, handler); err != nil {
			log.Printf("messaging: re-subscribe %s after reconfigure: %v", topic, err)
		}
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafka != nil {
		for _, r := range c.kafka.readers {
			r.Close()
		}
		if c.kafka.writer != nil {
			c.kafka.writer.Close()
		}
		c.kafka = nil
	}
	if c.redis != nil {
		for _, ps := range c.redis.subs {
			ps.Close()
		}
		c.redis.client.Close()
		c.redis = nil
	}
}

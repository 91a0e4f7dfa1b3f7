package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ordertrack/broker"
	"ordertrack/config"
	"ordertrack/messaging"
)

type LogFunc func(format string, args ...any)

// Bus is the message-bus client the engine relays from and mirrors to.
type Bus interface {
	messaging.Transport
	IsConnected() bool
}

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	MsgClient  Bus // nil when messaging is disabled
	Authorizer broker.JoinAuthorizer
	LogFunc    LogFunc
}

// Stats are running totals since start.
type Stats struct {
	Relayed  int64 `json:"relayed"`
	Rejected int64 `json:"rejected"`
}

type Engine struct {
	cfg        *config.Config
	configPath string
	broker     *broker.Broker
	msgClient  Bus
	relay      *messaging.Relay
	mirror     *messaging.Mirror
	Events     *EventBus
	logFn      LogFunc

	relayed  atomic.Int64
	rejected atomic.Int64

	stopOnce     sync.Once
	stopChan     chan struct{}
	msgConnected bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	bus := NewEventBus()
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		msgClient:  c.MsgClient,
		Events:     bus,
		logFn:      logFn,
		stopChan:   make(chan struct{}),
		broker: broker.New(broker.Config{
			Emitter:    &brokerEmitter{bus: bus},
			Authorizer: c.Authorizer,
			LogFunc:    broker.LogFunc(logFn),
		}),
	}
}

func (e *Engine) Start() {
	if e.msgClient != nil {
		e.relay = messaging.NewRelay(e.msgClient, e.broker, e.cfg.Messaging.IngestTopic)
		if e.cfg.Messaging.MirrorTopic != "" {
			e.mirror = messaging.NewMirror(e.msgClient, e.cfg.Messaging.MirrorTopic, messaging.DefaultMirrorDepth)
			e.mirror.Start()
		}
	}

	e.wireEventHandlers()

	if e.relay != nil {
		if err := e.relay.Start(); err != nil {
			e.logFn("engine: bus relay subscribe failed: %v", err)
		}
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()

	e.logFn("engine: started")
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	if e.mirror != nil {
		e.mirror.Stop()
	}
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) Broker() *broker.Broker    { return e.broker }
func (e *Engine) AppConfig() *config.Config { return e.cfg }
func (e *Engine) ConfigPath() string        { return e.configPath }
func (e *Engine) MsgClient() Bus            { return e.msgClient }

func (e *Engine) Stats() Stats {
	return Stats{
		Relayed:  e.relayed.Load(),
		Rejected: e.rejected.Load(),
	}
}

// MessagingConnected reports bus connectivity; false when messaging is disabled.
func (e *Engine) MessagingConnected() bool {
	return e.msgClient != nil && e.msgClient.IsConnected()
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient == nil {
		return
	}
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

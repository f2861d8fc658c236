// Package mqttrpc exposes enrollment, recognition and registry reload as
// request/response calls over MQTT.
//
// A caller publishes a JSON request on <prefix>/rpc/<op>/request and receives
// the reply on the topic named by response_to, or on
// <prefix>/rpc/<op>/response/<request_id> when response_to is empty.
package mqttrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/imaging"
	"github.com/kozaktomas/facegate/internal/workflow"
)

const (
	OpRecognize = "recognize"
	OpEnroll    = "enroll"
	OpSync      = "sync"
)

// Service runs enrollments and recognitions.
type Service interface {
	Enroll(ctx context.Context, req workflow.EnrollRequest) (*workflow.EnrollResult, error)
	Recognize(ctx context.Context, image []byte) (*workflow.RecognitionResult, error)
}

// Reloader rebuilds the registry snapshot.
type Reloader interface {
	Reload(ctx context.Context) error
	Len() int
	Generation() uint64
}

// Publisher is the part of mqtt.Client the handlers reply through.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Request is the payload of every RPC request. Image is base64, optionally
// as a data URL.
type Request struct {
	RequestID  string `json:"request_id"`
	ResponseTo string `json:"response_to"`
	Name       string `json:"name,omitempty"`
	Image      string `json:"image,omitempty"`
}

// Response is published once per request.
type Response struct {
	RequestID string `json:"request_id"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// SyncResult is the result of a sync request.
type SyncResult struct {
	Identities int    `json:"identities"`
	Generation uint64 `json:"generation"`
}

// Server subscribes to the RPC request topics and answers them.
type Server struct {
	service  Service
	reloader Reloader
	cfg      config.MQTTConfig
	timeout  time.Duration
	logger   *slog.Logger

	client mqtt.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// Option configures a Server.
type Option func(*Server)

// WithTimeout bounds the work done for a single request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server. Call Start to connect.
func New(service Service, reloader Reloader, cfg config.MQTTConfig, opts ...Option) *Server {
	s := &Server{
		service:  service,
		reloader: reloader,
		cfg:      cfg,
		timeout:  60 * time.Second,
		logger:   slog.Default(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestTopic returns the topic requests for op are read from.
func (s *Server) RequestTopic(op string) string {
	return s.prefix() + "/rpc/" + op + "/request"
}

// ResponseTopic returns the default reply topic for a request id.
func (s *Server) ResponseTopic(op, requestID string) string {
	return s.prefix() + "/rpc/" + op + "/response/" + requestID
}

func (s *Server) prefix() string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/")
}

// Start connects to the broker. Subscriptions are (re)made on every connect,
// so they survive automatic reconnects.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = "facegate-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().AddBroker(s.cfg.Broker).SetClientID(clientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("connected to MQTT broker", "broker", s.cfg.Broker, "client_id", clientID)
		if err := s.subscribe(c); err != nil {
			s.logger.Error("MQTT subscribe failed", "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		s.cancel()
		return fmt.Errorf("connecting to MQTT broker %s: %w", s.cfg.Broker, token.Error())
	}
	return nil
}

// Stop disconnects and waits for in-flight requests to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.client != nil {
		s.client.Disconnect(250)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Server) subscribe(c mqtt.Client) error {
	for _, op := range []string{OpRecognize, OpEnroll, OpSync} {
		topic := s.RequestTopic(op)
		token := c.Subscribe(topic, 0, s.messageHandler(op))
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
		}
		s.logger.Debug("subscribed", "topic", topic)
	}
	return nil
}

// messageHandler decodes a request and handles it off the paho callback goroutine.
func (s *Server) messageHandler(op string) mqtt.MessageHandler {
	return func(c mqtt.Client, m mqtt.Message) {
		var req Request
		if err := json.Unmarshal(m.Payload(), &req); err != nil {
			s.logger.Warn("[RPC] error parsing request", "topic", m.Topic(), "error", err)
			return
		}
		s.dispatch(c, op, req)
	}
}

// dispatch handles req on its own goroutine. It reports false and drops the
// request once Stop has been called.
func (s *Server) dispatch(pub Publisher, op string, req Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("[RPC] dropping request after stop", "op", op, "request_id", req.RequestID)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Handle(s.ctx, pub, op, req)
	}()
	return true
}

// Handle runs one request and publishes the reply.
func (s *Server) Handle(ctx context.Context, pub Publisher, op string, req Request) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("[RPC] request received", "op", op, "request_id", req.RequestID)

	var (
		result any
		err    error
	)
	switch op {
	case OpRecognize:
		result, err = s.recognize(ctx, req)
	case OpEnroll:
		result, err = s.enroll(ctx, req)
	case OpSync:
		result, err = s.sync(ctx)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}

	resp := Response{RequestID: req.RequestID}
	if err != nil {
		resp.Error = workflow.Message(err)
		resp.Kind = workflow.ErrorKind(err)
		if !workflow.IsClientError(err) {
			s.logger.Error("[RPC] request failed", "op", op, "request_id", req.RequestID, "error", err)
		}
	} else {
		resp.Result = result
	}

	topic := req.ResponseTo
	if topic == "" {
		topic = s.ResponseTopic(op, req.RequestID)
	}
	if err := s.publish(pub, topic, resp); err != nil {
		s.logger.Error("[RPC] publishing response failed", "topic", topic, "error", err)
		return
	}
	s.logger.Info("[RPC] response published", "op", op, "request_id", req.RequestID, "topic", topic)
}

func (s *Server) recognize(ctx context.Context, req Request) (*workflow.RecognitionResult, error) {
	data, err := imaging.DecodeDataURL(req.Image)
	if err != nil {
		return nil, err
	}
	return s.service.Recognize(ctx, data)
}

func (s *Server) enroll(ctx context.Context, req Request) (*workflow.EnrollResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, workflow.ErrMissingName
	}
	data, err := imaging.DecodeDataURL(req.Image)
	if err != nil {
		return nil, err
	}
	return s.service.Enroll(ctx, workflow.EnrollRequest{Name: req.Name, Image: data})
}

func (s *Server) sync(ctx context.Context) (*SyncResult, error) {
	if err := s.reloader.Reload(ctx); err != nil {
		return nil, err
	}
	return &SyncResult{Identities: s.reloader.Len(), Generation: s.reloader.Generation()}, nil
}

func (s *Server) publish(pub Publisher, topic string, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	token := pub.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

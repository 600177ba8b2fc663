// Package mqtt is the CLI-side broker adapter: it publishes commands to a
// castpoint node and reads its retained presence and device list.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/castpoint/castpoint/pkg/cast"
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	TopicBase string
	Timeout   time.Duration
}

// Client is an MQTT adapter implementing the Broker port.
type Client struct {
	client     paho.Client
	replyTopic string
	topicBase  string
	timeout    time.Duration

	mu            sync.Mutex
	replyHandlers map[string]chan cast.ReplyEnvelope
}

// NewClient creates and connects an MQTT client.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = cast.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	c := &Client{
		replyTopic:    cast.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:     opts.TopicBase,
		timeout:       opts.Timeout,
		replyHandlers: map[string]chan cast.ReplyEnvelope{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.replyTopic, 1, c.handleReply)
		token.Wait()
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := buildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand publishes a command and waits for a reply.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd cast.CommandEnvelope) (cast.ReplyEnvelope, error) {
	req, err := json.Marshal(cmd)
	if err != nil {
		return cast.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replyCh := make(chan cast.ReplyEnvelope, 1)
	c.mu.Lock()
	c.replyHandlers[cmd.ID] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replyHandlers, cmd.ID)
		c.mu.Unlock()
	}()

	topic := cast.TopicCommands(c.topicBase, nodeID)
	if token := c.client.Publish(topic, 1, false, req); token.Wait() && token.Error() != nil {
		return cast.ReplyEnvelope{}, token.Error()
	}

	select {
	case <-ctx.Done():
		return cast.ReplyEnvelope{}, ctx.Err()
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(c.timeout):
		return cast.ReplyEnvelope{}, errors.New("timeout waiting for reply")
	}
}

// ListPresence collects retained presence messages from castpoint nodes.
func (c *Client) ListPresence(ctx context.Context) ([]cast.Presence, error) {
	collect := make(map[string]cast.Presence)
	var lock sync.Mutex

	handler := func(_ paho.Client, msg paho.Message) {
		var presence cast.Presence
		if err := json.Unmarshal(msg.Payload(), &presence); err != nil {
			return
		}
		lock.Lock()
		collect[presence.NodeID] = presence
		lock.Unlock()
	}

	topic := fmt.Sprintf("%s/nodes/+/presence", c.topicBase)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	wait := time.NewTimer(250 * time.Millisecond)
	select {
	case <-ctx.Done():
		wait.Stop()
	case <-wait.C:
	}

	lock.Lock()
	defer lock.Unlock()
	out := make([]cast.Presence, 0, len(collect))
	for _, presence := range collect {
		out = append(out, presence)
	}
	return out, nil
}

// GetDeviceList returns the node's retained device list.
func (c *Client) GetDeviceList(ctx context.Context, nodeID string) (cast.DeviceListReply, error) {
	listCh := make(chan cast.DeviceListReply, 1)
	handler := func(_ paho.Client, msg paho.Message) {
		var list cast.DeviceListReply
		if err := json.Unmarshal(msg.Payload(), &list); err != nil {
			return
		}
		select {
		case listCh <- list:
		default:
		}
	}

	topic := cast.TopicDevices(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return cast.DeviceListReply{}, token.Error()
	}
	defer func() {
		token := c.client.Unsubscribe(topic)
		token.Wait()
	}()

	select {
	case <-ctx.Done():
		return cast.DeviceListReply{}, ctx.Err()
	case list := <-listCh:
		return list, nil
	case <-time.After(c.timeout):
		return cast.DeviceListReply{}, errors.New("timeout waiting for device list")
	}
}

// WatchEvents streams device events from a node until ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, nodeID string) (<-chan cast.Event, <-chan error) {
	sink := newEventSink()

	handler := func(_ paho.Client, msg paho.Message) {
		var evt cast.Event
		if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
			return
		}
		sink.deliver(evt)
	}

	topic := cast.TopicEvents(c.topicBase, nodeID)
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		sink.fail(token.Error())
		return sink.events, sink.errs
	}

	go func() {
		<-ctx.Done()
		c.client.Unsubscribe(topic).Wait()
		sink.stop()
	}()

	return sink.events, sink.errs
}

// eventSink serializes handler deliveries against teardown. Unsubscribe
// does not wait for in-flight message handlers, so a late delivery must
// never hit a closed channel.
type eventSink struct {
	mu      sync.Mutex
	stopped bool
	events  chan cast.Event
	errs    chan error
}

func newEventSink() *eventSink {
	return &eventSink{
		events: make(chan cast.Event, 8),
		errs:   make(chan error, 1),
	}
}

func (s *eventSink) deliver(evt cast.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.events <- evt:
	default:
	}
}

func (s *eventSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

// stop closes both channels. Deliveries arriving afterwards are dropped.
func (s *eventSink) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
	close(s.errs)
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply cast.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.replyHandlers[reply.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- reply:
	default:
	}
}

func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	config := &tls.Config{}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.RootCAs = pool
	}

	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, errors.New("both tls cert and key are required")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

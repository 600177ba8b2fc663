// Package embeddedmqtt runs an in-process MQTT broker so a castpoint
// deployment does not need an external one. Authenticated clients are
// confined to the castpoint topic tree.
package embeddedmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"
)

const defaultListen = "127.0.0.1:1883"

// Config configures the embedded MQTT broker.
type Config struct {
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
	// TopicBase, when set, confines authenticated clients to that topic
	// subtree. Anonymous brokers stay unrestricted for LAN use.
	TopicBase string
	TLSCA     string
	TLSCert   string
	TLSKey    string
}

// Module runs an embedded MQTT broker.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config
}

// NewModule creates a new embedded broker module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = defaultListen
	}

	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg}, nil
}

// Run serves the broker until ctx is cancelled. A listener or serve
// failure surfaces instead of leaving the daemon silently brokerless.
func (m *Module) Run(ctx context.Context) error {
	listenerConfig := listeners.Config{ID: "castpoint-embedded", Address: m.config.Listen}
	if m.config.TLSCert != "" || m.config.TLSKey != "" || m.config.TLSCA != "" {
		tlsConfig, err := buildTLSConfig(m.config.TLSCA, m.config.TLSCert, m.config.TLSKey)
		if err != nil {
			return err
		}
		listenerConfig.TLSConfig = tlsConfig
	}

	if err := m.server.AddListener(listeners.NewTCP(listenerConfig)); err != nil {
		return fmt.Errorf("embedded mqtt listener: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- m.server.Serve()
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("embedded mqtt serve: %w", err)
		}
		<-ctx.Done()
	case <-ctx.Done():
	}
	m.server.Close()
	return nil
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	server := mqtt.New(&mqtt.Options{InlineClient: true, Logger: brokerLogger(log)})

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	case cfg.Username != "":
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: authLedger(cfg)}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}

	return server, nil
}

// authLedger builds the single-user ledger. With a topic base configured
// the user is confined to the castpoint subtree; commands, replies,
// presence and events all live under it.
func authLedger(cfg Config) *auth.Ledger {
	filter := "#"
	if base := strings.Trim(strings.TrimSpace(cfg.TopicBase), "/"); base != "" {
		filter = base + "/#"
	}
	return &auth.Ledger{
		Auth: auth.AuthRules{{
			Username: auth.RString(cfg.Username),
			Password: auth.RString(cfg.Password),
			Allow:    true,
		}},
		ACL: auth.ACLRules{{
			Username: auth.RString(cfg.Username),
			Filters:  auth.Filters{auth.RString(filter): auth.ReadWrite},
		}},
	}
}

// brokerLogger adapts the module's zap logger to the slog interface mochi
// expects.
func brokerLogger(logger *zap.Logger) *slog.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return slog.New(&brokerLogHandler{logger: logger})
}

type brokerLogHandler struct {
	logger *zap.Logger
	attrs  []slog.Attr
}

func (h *brokerLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *brokerLogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = append(fields, attrField(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, attrField(attr))
		return true
	})

	log := levelFunc(h.logger, record.Level)
	// Clients dropping their TCP connection is routine on a LAN; mochi
	// reports it at error level, which would spam the daemon log.
	if disconnectNoise(record) {
		log = h.logger.Debug
	}
	log(record.Message, fields...)
	return nil
}

func (h *brokerLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &brokerLogHandler{logger: h.logger, attrs: merged}
}

func (h *brokerLogHandler) WithGroup(string) slog.Handler { return h }

func levelFunc(logger *zap.Logger, level slog.Level) func(string, ...zap.Field) {
	switch {
	case level >= slog.LevelError:
		return logger.Error
	case level >= slog.LevelWarn:
		return logger.Warn
	case level >= slog.LevelInfo:
		return logger.Info
	default:
		return logger.Debug
	}
}

func disconnectNoise(record slog.Record) bool {
	noisy := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key != "error" {
			return true
		}
		var msg string
		switch attr.Value.Kind() {
		case slog.KindString:
			msg = attr.Value.String()
		case slog.KindAny:
			if err, ok := attr.Value.Any().(error); ok {
				msg = err.Error()
			}
		}
		if msg == "EOF" || strings.Contains(msg, "read connection: EOF") {
			noisy = true
			return false
		}
		return true
	})
	return noisy
}

func attrField(attr slog.Attr) zap.Field {
	switch attr.Value.Kind() {
	case slog.KindString:
		return zap.String(attr.Key, attr.Value.String())
	case slog.KindInt64:
		return zap.Int64(attr.Key, attr.Value.Int64())
	case slog.KindUint64:
		return zap.Uint64(attr.Key, attr.Value.Uint64())
	case slog.KindFloat64:
		return zap.Float64(attr.Key, attr.Value.Float64())
	case slog.KindBool:
		return zap.Bool(attr.Key, attr.Value.Bool())
	default:
		return zap.Any(attr.Key, attr.Value.Any())
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

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "mqtt"
	if tlsEnabled {
		scheme = "mqtts"
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}

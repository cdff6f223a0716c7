// Package discovery announces a running service instance on an MQTT broker.
//
// Each instance owns the retained topic <prefix>/<service>/<instance>. It
// publishes an online announcement on every connect and leaves an offline
// announcement as its last will, so subscribers see the instance go away even
// when the process dies.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/xizhibei/go-lab-services/mqttadapter"
	"go.uber.org/zap"
)

// Config configures registration.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Broker    string        `mapstructure:"broker" validate:"required_if=Enabled true"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Prefix    string        `mapstructure:"prefix" validate:"required_if=Enabled true"`
	Advertise string        `mapstructure:"advertise"`
	KeepAlive time.Duration `mapstructure:"keep_alive"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Debug     bool          `mapstructure:"debug"`

	// ConnectRetryInterval retries a failed first connect in the background; 0 gives up.
	ConnectRetryInterval time.Duration `mapstructure:"connect_retry_interval" validate:"gte=0"`
	// MaxReconnectInterval caps the backoff after a lost connection; 0 keeps the client default.
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval" validate:"gte=0"`
}

// DefaultConfig returns the defaults: disabled, prefix lab/services.
func DefaultConfig() Config {
	return Config{
		Prefix:               "lab/services",
		KeepAlive:            30 * time.Second,
		Timeout:              5 * time.Second,
		MaxReconnectInterval: time.Minute,
	}
}

// Topic returns the retained topic of one instance.
func Topic(prefix, service, instance string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + service + "/" + instance
}

// Registrar keeps the announcement of one instance on the broker.
type Registrar struct {
	client  mqttadapter.MQTTClientAdapter
	topic   string
	ann     Announcement
	timeout time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger

	mu     sync.Mutex
	subID  int
	lostID int
	subOn  bool
}

// New creates a Registrar for service reachable at address, connected to the
// broker in cfg. The offline will is installed before the first connect.
func New(cfg Config, service, address string) (*Registrar, error) {
	instance := uuid.NewString()
	if cfg.Advertise != "" {
		address = cfg.Advertise
	}

	ann := Announcement{
		Service:  service,
		Address:  address,
		Instance: instance,
	}
	topic := Topic(cfg.Prefix, service, instance)

	offline, err := ann.WithStatus(StatusOffline, time.Now()).Marshal()
	if err != nil {
		return nil, err
	}

	client, err := mqttadapter.New(cfg.Broker, service+"-"+instance, clientOptions(cfg, topic, offline)...)
	if err != nil {
		return nil, err
	}

	return NewWithClient(client, topic, ann, cfg.Timeout), nil
}

func clientOptions(cfg Config, willTopic string, will []byte) []mqttadapter.Option {
	options := []mqttadapter.Option{
		mqttadapter.WithOfflineWill(willTopic, will),
		mqttadapter.WithDebug(cfg.Debug),
	}
	if cfg.Username != "" {
		options = append(options, mqttadapter.WithUserPass(cfg.Username, cfg.Password))
	}
	if cfg.KeepAlive > 0 {
		options = append(options, mqttadapter.WithKeepAlive(cfg.KeepAlive))
	}
	if cfg.ConnectRetryInterval > 0 {
		options = append(options, mqttadapter.WithConnectRetryInterval(cfg.ConnectRetryInterval))
	}
	if cfg.MaxReconnectInterval > 0 {
		options = append(options, mqttadapter.WithMaxReconnectInterval(cfg.MaxReconnectInterval))
	}
	return options
}

// NewWithClient creates a Registrar publishing ann on topic through client.
func NewWithClient(client mqttadapter.MQTTClientAdapter, topic string, ann Announcement, timeout time.Duration) *Registrar {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Registrar{
		client:  client,
		topic:   topic,
		ann:     ann,
		timeout: timeout,
		now:     time.Now,
		log:     zap.S().With("module", "lab.discovery"),
	}
}

// Topic returns the topic the instance is announced on.
func (r *Registrar) Topic() string {
	return r.topic
}

// Announcement returns the announced instance.
func (r *Registrar) Announcement() Announcement {
	return r.ann
}

// Register connects to the broker. The online announcement is published now
// and again after every reconnect, since the will may have replaced it.
func (r *Registrar) Register(ctx context.Context) error {
	r.mu.Lock()
	if !r.subOn {
		r.subID = r.client.OnConnect(r.announceOnline)
		r.lostID = r.client.OnConnectLost(r.connectionLost)
		r.subOn = true
	}
	r.mu.Unlock()

	if err := r.client.Connect(ctx); err != nil {
		return errors.Wrapf(err, "register %s", r.topic)
	}
	return nil
}

// Deregister publishes the offline announcement and disconnects.
// The client is disconnected even when the publish fails.
func (r *Registrar) Deregister(ctx context.Context) error {
	r.mu.Lock()
	if r.subOn {
		r.client.OffConnect(r.subID)
		r.client.OffConnectLost(r.lostID)
		r.subOn = false
	}
	r.mu.Unlock()

	defer r.client.Disconnect()

	if !r.client.IsConnected() {
		return nil
	}
	return r.publish(ctx, StatusOffline)
}

func (r *Registrar) announceOnline() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.publish(ctx, StatusOnline); err != nil {
		r.log.Warnf("Announce %s: %v", r.topic, err)
		return
	}
	r.log.Infof("Announced %s at %s", r.ann.Service, r.ann.Address)
}

// connectionLost runs when the broker drops the client. The broker has
// published the offline will by then; the next connect announces again.
func (r *Registrar) connectionLost(err error) {
	r.log.Warnf("Connection lost, %s is announced offline until reconnect: %v", r.topic, err)
}

func (r *Registrar) publish(ctx context.Context, status Status) error {
	data, err := r.ann.WithStatus(status, r.now()).Marshal()
	if err != nil {
		return err
	}
	return errors.Wrapf(r.client.PublishBytesWait(ctx, r.topic, 1, true, data), "announce %s", status)
}

// Package mqttadapter wraps the paho MQTT client with context-aware waits and
// connection callbacks.
package mqttadapter

import (
	"context"
	stdlog "log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTClientAdapterImpl represents an MQTT client.
type MQTTClientAdapterImpl struct {
	client        mqtt.Client
	clientOptions *ClientOptions

	onConnectCallbakCount     int
	onConnectCallbakMutex     sync.Mutex
	onConnectCallbaks         map[int]OnConnectCallback
	onConnectLostCallbakCount int
	onConnectLostCallbakMutex sync.Mutex
	onConnectLostCallbaks     map[int]OnConnectLostCallback

	printableURL string

	log *zap.SugaredLogger
}

// New creates a new MQTT client for uri, in the format "scheme://host:port"
// where scheme is "tcp", "ssl" or "ws". Credentials in the URI are never logged.
func New(uri, clientID string, options ...Option) (*MQTTClientAdapterImpl, error) {
	server, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parse broker uri")
	}

	clonedServer := *server
	clonedServer.User = nil
	client := &MQTTClientAdapterImpl{
		log:                   zap.S().With("module", "lab.mqtt"),
		printableURL:          clonedServer.String(),
		onConnectCallbaks:     make(map[int]OnConnectCallback),
		onConnectLostCallbaks: make(map[int]OnConnectLostCallback),
	}

	mqttClientOptions := mqtt.NewClientOptions().
		AddBroker(uri).
		SetClientID(clientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			client.log.Infof("Connected %s", client.printableURL)
			client.onConnectCallbakMutex.Lock()
			defer client.onConnectCallbakMutex.Unlock()
			for _, cb := range client.onConnectCallbaks {
				go cb()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			client.log.Infof("Connection lost %s %v", client.printableURL, err)
			client.onConnectLostCallbakMutex.Lock()
			defer client.onConnectLostCallbakMutex.Unlock()
			for _, cb := range client.onConnectLostCallbaks {
				go cb(err)
			}
		})

	clientOptions := &ClientOptions{
		ClientOptions: mqttClientOptions,
	}

	for _, o := range options {
		o(clientOptions)
	}

	if clientOptions.enableDebug {
		mqtt.DEBUG = stdlog.New(os.Stderr, "DEBUG - ", stdlog.LstdFlags)
		mqtt.CRITICAL = stdlog.New(os.Stderr, "CRITICAL - ", stdlog.LstdFlags)
		mqtt.WARN = stdlog.New(os.Stderr, "WARN - ", stdlog.LstdFlags)
		mqtt.ERROR = stdlog.New(os.Stderr, "ERROR - ", stdlog.LstdFlags)
	}

	client.client = mqtt.NewClient(clientOptions.ClientOptions)
	client.clientOptions = clientOptions

	return client, nil
}

// OnConnect registers cb to run on every successful connection, reconnects included.
// cb also runs immediately if the client is already connected.
func (s *MQTTClientAdapterImpl) OnConnect(cb OnConnectCallback) int {
	if s.client.IsConnected() {
		cb()
	}

	s.onConnectCallbakMutex.Lock()
	defer s.onConnectCallbakMutex.Unlock()

	idx := s.onConnectCallbakCount
	s.onConnectCallbakCount++
	s.onConnectCallbaks[idx] = cb
	return idx
}

// OffConnect removes the onConnect callback function associated with the given index.
func (s *MQTTClientAdapterImpl) OffConnect(idx int) {
	s.onConnectCallbakMutex.Lock()
	defer s.onConnectCallbakMutex.Unlock()

	delete(s.onConnectCallbaks, idx)
}

// OnConnectLost registers cb to run when the connection drops.
func (s *MQTTClientAdapterImpl) OnConnectLost(cb OnConnectLostCallback) int {
	s.onConnectLostCallbakMutex.Lock()
	defer s.onConnectLostCallbakMutex.Unlock()

	idx := s.onConnectLostCallbakCount
	s.onConnectLostCallbakCount++
	s.onConnectLostCallbaks[idx] = cb
	return idx
}

// OffConnectLost removes the callback function associated with the given index.
func (s *MQTTClientAdapterImpl) OffConnectLost(idx int) {
	s.onConnectLostCallbakMutex.Lock()
	defer s.onConnectLostCallbakMutex.Unlock()

	delete(s.onConnectLostCallbaks, idx)
}

// Connect connects to the broker and waits until the attempt completes or ctx ends.
func (s *MQTTClientAdapterImpl) Connect(ctx context.Context) error {
	return s.wait(ctx, s.client.Connect(), "connect %s", s.printableURL)
}

// Disconnect closes the connection cleanly, so the broker does not publish the will.
func (s *MQTTClientAdapterImpl) Disconnect() {
	s.client.Disconnect(1000)
}

// IsConnected returns a boolean value indicating whether the connection to the broker is open.
func (s *MQTTClientAdapterImpl) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// PublishBytesWait publishes data and waits for the operation to complete or ctx to end.
func (s *MQTTClientAdapterImpl) PublishBytesWait(ctx context.Context, topic string, qos byte, retained bool, data []byte) error {
	s.log.Debugf("Publish topic=%s qos=%d retained=%t size=%d", topic, qos, retained, len(data))
	return s.wait(ctx, s.client.Publish(topic, qos, retained, data), "publish %s", topic)
}

func (s *MQTTClientAdapterImpl) wait(ctx context.Context, token mqtt.Token, format string, args ...interface{}) error {
	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), format, args...)
	case <-token.Done():
		return errors.Wrapf(token.Error(), format, args...)
	}
}

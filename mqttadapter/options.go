package mqttadapter

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientOptions wraps the paho client options with adapter settings.
type ClientOptions struct {
	*mqtt.ClientOptions
	enableDebug bool
}

// Option configures the client.
type Option func(o *ClientOptions)

// WithDebug routes the paho internal loggers to stderr.
func WithDebug(debug bool) Option {
	return func(o *ClientOptions) {
		o.enableDebug = debug
	}
}

// WithUserPass sets the broker credentials.
func WithUserPass(user, pass string) Option {
	return func(o *ClientOptions) {
		o.SetUsername(user)
		o.SetPassword(pass)
	}
}

// WithKeepAlive sets the keep alive interval.
func WithKeepAlive(keepalive time.Duration) Option {
	return func(o *ClientOptions) {
		o.SetKeepAlive(keepalive)
	}
}

// WithConnectRetryInterval retries the initial connection every duration.
func WithConnectRetryInterval(duration time.Duration) Option {
	return func(o *ClientOptions) {
		o.SetConnectRetry(true)
		o.SetConnectRetryInterval(duration)
	}
}

// WithMaxReconnectInterval caps the backoff between automatic reconnects.
func WithMaxReconnectInterval(interval time.Duration) Option {
	return func(o *ClientOptions) {
		o.SetMaxReconnectInterval(interval)
	}
}

// WithOfflineWill makes the broker publish payload to topic, retained with qos 1,
// when the connection drops without a clean disconnect.
func WithOfflineWill(topic string, payload []byte) Option {
	return func(o *ClientOptions) {
		o.SetBinaryWill(topic, payload, 1, true)
	}
}

package mqttadapter

//go:generate mockgen -source=interface.go -destination=mock/mock_mqttadapter.go
//go:generate mockgen -package mock_mqtt -destination=mock/mqtt/mock_mqtt_client.go github.com/eclipse/paho.mqtt.golang Client,Token

import (
	"context"
)

// OnConnectCallback represents a callback function that is called when a connection is established.
type OnConnectCallback func()

// OnConnectLostCallback is called with the reason when the connection to the broker is lost.
type OnConnectLostCallback func(err error)

// MQTTClientAdapter is an interface that defines the methods for interacting with an MQTT client.
type MQTTClientAdapter interface {
	// OnConnect sets a callback function to be called every time the client is connected.
	// It returns an index that can be used to remove the callback using OffConnect.
	OnConnect(cb OnConnectCallback) int

	// OffConnect removes the callback function associated with the given index.
	OffConnect(idx int)

	// OnConnectLost sets a callback function to be called when the client connection is lost.
	// It returns an index that can be used to remove the callback using OffConnectLost.
	OnConnectLost(cb OnConnectLostCallback) int

	// OffConnectLost removes the callback function associated with the given index.
	OffConnectLost(idx int)

	// Connect establishes a connection to the MQTT broker.
	Connect(ctx context.Context) error

	// Disconnect disconnects the client from the MQTT broker.
	Disconnect()

	// IsConnected returns true if the client is currently connected to the MQTT broker, false otherwise.
	IsConnected() bool

	// PublishBytesWait publishes data to topic and waits for the broker to acknowledge it
	// according to qos.
	PublishBytesWait(ctx context.Context, topic string, qos byte, retained bool, data []byte) error
}

package blebridge

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configure the broker connection.
type MQTTOptions struct {
	Host     string
	Port     int
	ClientID string
	Username *string
	Password *string

	// WillTopic receives a retained "offline" if the bridge drops off the broker.
	WillTopic string
}

type MQTT struct {
	client mqtt.Client
}

func InitMQTT(o MQTTOptions) (*MQTT, error) {
	if o.Host == "" {
		return nil, fmt.Errorf("mqtt: host is required")
	}

	opts := mqtt.NewClientOptions()
	clientID := o.ClientID
	if clientID == "" {
		clientID = "blebridge"
	}
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", o.Host, o.Port))

	if o.Username != nil {
		opts.SetUsername(*o.Username)
	}

	if o.Password != nil {
		opts.SetPassword(*o.Password)
	}

	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, "offline", 1, true)
	}

	return &MQTT{
		client: mqtt.NewClient(opts),
	}, nil
}

func (m *MQTT) Connect() error {
	token := m.client.Connect()
	token.Wait()

	return token.Error()
}

// Publish sends payload as JSON.
func (m *MQTT) Publish(topic string, payload interface{}, retained bool) error {
	payloadJson, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	token := m.client.Publish(topic, 1, retained, payloadJson)
	token.Wait()

	return token.Error()
}

// PublishRaw sends payload as is.
func (m *MQTT) PublishRaw(topic string, payload string, retained bool) error {
	token := m.client.Publish(topic, 1, retained, payload)
	token.Wait()

	return token.Error()
}

// Subscribe calls h for every message received on topic.
func (m *MQTT) Subscribe(topic string, h func(topic string, payload []byte)) error {
	token := m.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	token.Wait()

	return token.Error()
}

func (m *MQTT) Disconnect() {
	m.client.Disconnect(250)
}

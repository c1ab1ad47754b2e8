package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes room status changes to <prefix>/<room_id> as retained
// messages so door displays show the latest state on reconnect. Other kinds
// are ignored.
type MQTTSink struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
}

func NewMQTTSink(pub Publisher, prefix string) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: strings.TrimSuffix(prefix, "/"), timeout: 5 * time.Second}
}

// ConnectMQTT dials the broker with auto-reconnect enabled.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

type roomDisplay struct {
	RoomID    string `json:"room_id"`
	Room      string `json:"room"`
	State     string `json:"state"`
	BookingID string `json:"booking_id,omitempty"`
	Procedure string `json:"procedure,omitempty"`
	At        string `json:"at"`
}

func (s *MQTTSink) topic(roomID string) string {
	return s.prefix + "/" + roomID
}

func displayPayload(msg Message) ([]byte, error) {
	return json.Marshal(roomDisplay{
		RoomID:    msg.Data["room_id"],
		Room:      msg.Data["room"],
		State:     msg.Data["state"],
		BookingID: msg.Data["booking_id"],
		Procedure: msg.Data["procedure"],
		At:        msg.At.UTC().Format(time.RFC3339),
	})
}

func (s *MQTTSink) Notify(_ context.Context, msg Message) error {
	if msg.Kind != RoomStatusChanged || msg.Data["room_id"] == "" {
		return nil
	}
	payload, err := displayPayload(msg)
	if err != nil {
		return err
	}
	topic := s.topic(msg.Data["room_id"])
	token := s.pub.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

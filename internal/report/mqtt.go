package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/mission"
)

// MQTT parameters
const (
	TopicType      = "events"
	QoS            = 1
	Retain         = false
	publishTimeout = 5 * time.Second
)

// Publisher is the part of mqtt.Client the observer uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type missionMessage struct {
	DeviceID  string        `json:"device_id"`
	MessageID string        `json:"message_id"`
	Timestamp time.Time     `json:"timestamp"`
	Event     mission.Event `json:"event"`
}

// MQTTObserver publishes every mission event to
// /devices/<device_id>/events/mission. Publishing never blocks the mission;
// delivery failures are logged.
type MQTTObserver struct {
	client   Publisher
	deviceID string
	topic    string
	log      *logrus.Entry
}

func NewMQTTObserver(client Publisher, deviceID string, log *logrus.Entry) *MQTTObserver {
	topic := fmt.Sprintf("/devices/%s/%s/mission", deviceID, TopicType)
	return &MQTTObserver{
		client:   client,
		deviceID: deviceID,
		topic:    topic,
		log:      log.WithField("topic", topic),
	}
}

func (o *MQTTObserver) Topic() string {
	return o.topic
}

func (o *MQTTObserver) Observe(e mission.Event) {
	b, err := json.Marshal(missionMessage{
		DeviceID:  o.deviceID,
		MessageID: uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Event:     e,
	})
	if err != nil {
		o.log.WithError(err).Error("Failed to encode mission event")
		return
	}

	tok := o.client.Publish(o.topic, QoS, Retain, string(b))
	go func() {
		if !tok.WaitTimeout(publishTimeout) {
			o.log.Warn("Publish timeout")
			return
		}
		if err := tok.Error(); err != nil {
			o.log.WithError(err).Warn("Publish failed")
		}
	}()
}

// ConnectMQTT connects to broker, retrying until ctx is done.
func ConnectMQTT(ctx context.Context, broker, clientID string, log *logrus.Entry) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetProtocolVersion(4) // Use MQTT 3.1.1

	client := mqtt.NewClient(opts)
	for {
		log.Infof("Connecting MQTT %s", broker)
		tok := client.Connect()
		if tok.WaitTimeout(5 * time.Second) {
			if err := tok.Error(); err != nil {
				return nil, errors.Wrapf(err, "mqtt connect %s", broker)
			}
			log.Info("..Connected")
			return client, nil
		}
		log.Warn("Connection Timeout")

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "mqtt connect")
		default:
		}
	}
}

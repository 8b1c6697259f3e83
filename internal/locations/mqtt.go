package locations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const positionTopic = "fleet/+/location"

// MQTTBridge feeds tracker hardware into the location pipeline. Trackers
// publish JSON points to fleet/<vehicle_id>/location; the bridge hands them
// to the same Report path the driver app uses.
type MQTTBridge struct {
	svc    *Service
	log    *logrus.Logger
	client mqtt.Client
}

// NewMQTTBridge connects to the broker and subscribes. An empty broker URL
// disables the bridge (deployments without tracker hardware).
func NewMQTTBridge(brokerURL string, svc *Service, log *logrus.Logger) (*MQTTBridge, error) {
	if brokerURL == "" {
		return nil, nil
	}

	b := &MQTTBridge{svc: svc, log: log}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("dispatch-service-locations").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(positionTopic, 1, b.handle); token.Wait() && token.Error() != nil {
				log.WithError(token.Error()).Error("mqtt subscribe failed")
			}
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	b.client = client
	log.WithField("broker", brokerURL).Info("mqtt location bridge connected")
	return b, nil
}

func (b *MQTTBridge) handle(_ mqtt.Client, msg mqtt.Message) {
	vehicleID := vehicleFromTopic(msg.Topic())
	if vehicleID == "" {
		b.log.WithField("topic", msg.Topic()).Warn("mqtt: unrecognized topic")
		return
	}

	var p Point
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		b.log.WithError(err).Warn("mqtt: malformed location payload")
		return
	}
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.svc.Report(ctx, vehicleID, []Point{p}); err != nil {
		b.log.WithError(err).WithField("vehicle", vehicleID).Warn("mqtt: location ingest failed")
	}
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	if b != nil && b.client != nil {
		b.client.Disconnect(250)
	}
}

// vehicleFromTopic extracts the vehicle id from fleet/<id>/location.
func vehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "fleet" || parts[2] != "location" {
		return ""
	}
	return parts[1]
}

package events

import (
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// MQTT topics. State is high-frequency and published unretained; the rest
// are retained so late subscribers see the latest value.
const (
	TopicState             = "gearvr/state"
	TopicDeviceFound       = "gearvr/devices"
	TopicCalibrationStep   = "gearvr/calibration/step"
	TopicCalibrationResult = "gearvr/calibration/result"
)

// MQTTSink publishes events as JSON to an MQTT broker.
type MQTTSink struct {
	client mqtt.Client
}

// NewMQTTSink connects to the broker and returns the sink.
func NewMQTTSink(broker, clientID string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Infof("events: connected to MQTT broker at %s", broker)
	return &MQTTSink{client: client}, nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

func (s *MQTTSink) State(state fusion.ControllerState) {
	s.publish(TopicState, false, state)
}

func (s *MQTTSink) DeviceFound(device DeviceRecord) {
	s.publish(TopicDeviceFound, true, device)
}

func (s *MQTTSink) CalibrationStep(step string) {
	s.publish(TopicCalibrationStep, true, map[string]string{"step": step})
}

func (s *MQTTSink) CalibrationFinished(kind string, ok bool) {
	s.publish(TopicCalibrationResult, true, map[string]any{"kind": kind, "ok": ok})
}

func (s *MQTTSink) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Errorf("events: marshal for %s: %v", topic, err)
		return
	}
	// Fire and forget: waiting on every state publish would backpressure
	// the notification pipeline.
	s.client.Publish(topic, 0, retained, payload)
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/airmouse/gearvr-bridge/internal/events"
	"github.com/airmouse/gearvr-bridge/internal/fusion"
)

// RunConsole subscribes to the bridge's MQTT topics and pretty-prints the
// event stream until interrupted. Handy for checking fusion output without
// letting the mapper near the cursor.
func RunConsole(broker string) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("gearvr-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Infof("console: connected to MQTT broker at %s", broker)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{events.TopicState, printState},
		{events.TopicDeviceFound, printDevice},
		{events.TopicCalibrationStep, printCalibrationStep},
		{events.TopicCalibrationResult, printCalibrationResult},
	}
	for _, sub := range subs {
		token := client.Subscribe(sub.topic, 0, sub.handler)
		if token.Wait(); token.Error() != nil {
			return token.Error()
		}
		log.Infof("console: subscribed to %s", sub.topic)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printState(_ mqtt.Client, msg mqtt.Message) {
	var s fusion.ControllerState
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		log.Errorf("console: state unmarshal: %v", err)
		return
	}
	fmt.Printf(
		"[STATE] t=%9.3f  q=(%6.3f %6.3f %6.3f %6.3f)  touch=%v(%.2f,%.2f)  trig=%v home=%v back=%v  batt=%d%%\n",
		s.Timestamp,
		s.Orientation.W, s.Orientation.X, s.Orientation.Y, s.Orientation.Z,
		s.Touchpad.Touched, s.Touchpad.X, s.Touchpad.Y,
		s.Buttons.Trigger, s.Buttons.Home, s.Buttons.Back,
		s.BatteryLevel,
	)
}

func printDevice(_ mqtt.Client, msg mqtt.Message) {
	var d events.DeviceRecord
	if err := json.Unmarshal(msg.Payload(), &d); err != nil {
		log.Errorf("console: device unmarshal: %v", err)
		return
	}
	fmt.Printf("[FOUND] %s  %q  rssi=%d\n", d.ID, d.Name, d.RSSI)
}

func printCalibrationStep(_ mqtt.Client, msg mqtt.Message) {
	var step struct {
		Step string `json:"step"`
	}
	if err := json.Unmarshal(msg.Payload(), &step); err != nil {
		log.Errorf("console: step unmarshal: %v", err)
		return
	}
	fmt.Printf("[CALIB] %s\n", step.Step)
}

func printCalibrationResult(_ mqtt.Client, msg mqtt.Message) {
	var result struct {
		Kind string `json:"kind"`
		OK   bool   `json:"ok"`
	}
	if err := json.Unmarshal(msg.Payload(), &result); err != nil {
		log.Errorf("console: result unmarshal: %v", err)
		return
	}
	fmt.Printf("[CALIB] %s finished, ok=%v\n", result.Kind, result.OK)
}

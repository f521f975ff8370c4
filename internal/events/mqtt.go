package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"nutrient_mixer/internal/config"
	"nutrient_mixer/internal/logger"
)

const mqttConnectTimeout = 5 * time.Second

// Publisher is the part of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes job events to <prefix>/jobs/<type>/<event> and device
// state, retained, to <prefix>/devices/<kind>/<id>.
type MQTTSink struct {
	client Publisher
	prefix string
}

func NewMQTTSink(client Publisher, prefix string) *MQTTSink {
	if prefix == "" {
		prefix = "mixer"
	}
	return &MQTTSink{client: client, prefix: prefix}
}

func (s *MQTTSink) HandleJob(ctx context.Context, e JobEvent) error {
	typ := string(e.Job.Type)
	if typ == "" {
		typ = "unknown"
	}
	return s.publish(ctx, s.prefix+"/jobs/"+typ+"/"+string(e.Kind), false, e)
}

func (s *MQTTSink) HandleDevice(ctx context.Context, e DeviceEvent) error {
	return s.publish(ctx, s.prefix+"/devices/"+string(e.Kind)+"/"+strconv.Itoa(e.ID), true, e)
}

func (s *MQTTSink) publish(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	tok := s.client.Publish(topic, 1, retained, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// DialMQTT connects to the broker. The client keeps retrying in the
// background, so an unreachable broker only delays delivery.
func DialMQTT(cfg config.MQTTConfig, log *logger.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Infow("mqtt_connected", "broker", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnw("mqtt_connection_lost", "broker", cfg.Broker, "err", err)
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		log.Warnw("mqtt_connect_pending", "broker", cfg.Broker)
		return client, nil
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

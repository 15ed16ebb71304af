package feed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"wattchbridge/internal/device"
	"wattchbridge/internal/mqtt"
)

// StateTopic is the per-device topic filter, relative to the MQTT prefix
const StateTopic = "+/state"

// Subscriber is the part of the MQTT client the feed needs
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MQTTSource turns per-device MQTT state messages into one-device snapshots
type MQTTSource struct {
	sub     Subscriber
	onError ErrorHandler
	logger  *log.Logger
	now     func() time.Time
}

// NewMQTTSource creates a source reading from sub. onError may be nil.
func NewMQTTSource(sub Subscriber, onError ErrorHandler, logger *log.Logger) *MQTTSource {
	return &MQTTSource{
		sub:     sub,
		onError: onError,
		logger:  logger,
		now:     time.Now,
	}
}

// Name implements Source
func (s *MQTTSource) Name() string {
	return "mqtt"
}

// Run implements Source
func (s *MQTTSource) Run(ctx context.Context, out chan<- Snapshot) error {
	err := s.sub.Subscribe(StateTopic, 1, func(topic string, payload []byte) {
		id, ok := deviceFromTopic(topic)
		if !ok {
			return
		}
		obs, err := device.DecodeObservation(payload)
		if err != nil {
			s.report(&SubscriptionError{Source: s.Name(), Err: fmt.Errorf("malformed payload for %s: %w", id, err)})
			return
		}
		emit(ctx, out, Snapshot{
			Devices:    map[string]device.Observation{id: obs},
			ReceivedAt: s.now(),
		})
	})
	if err != nil {
		return &SubscriptionError{Source: s.Name(), Err: err}
	}

	if s.logger != nil {
		s.logger.Printf("[Feed] Listening on MQTT topic %s", StateTopic)
	}

	<-ctx.Done()

	if err := s.sub.Unsubscribe(StateTopic); err != nil && s.logger != nil {
		s.logger.Printf("[Feed] Failed to unsubscribe: %v", err)
	}
	return nil
}

// deviceFromTopic extracts the device id from "<id>/state"
func deviceFromTopic(topic string) (string, bool) {
	id, ok := strings.CutSuffix(topic, "/state")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (s *MQTTSource) report(err error) {
	if s.logger != nil {
		s.logger.Printf("[Feed] %v", err)
	}
	if s.onError != nil {
		s.onError(err)
	}
}

package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Publisher announces feature edits on the refresh topic. Messages are keyed
// by layer so edits to one layer stay ordered within a partition.
type Publisher struct {
	prod  sarama.SyncProducer
	topic string
	now   func() time.Time
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("producer create: %w", err)
	}
	return newPublisher(prod, topic), nil
}

func newPublisher(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{prod: prod, topic: topic, now: time.Now}
}

// Publish sends w, stamping TS when unset, and returns where it landed.
func (p *Publisher) Publish(w WireEvent) (partition int32, offset int64, err error) {
	w.Layer = strings.TrimRight(strings.TrimSpace(w.Layer), "/")
	if w.Layer == "" {
		return 0, 0, errors.New("publish: layer is required")
	}
	if w.TS.IsZero() {
		w.TS = p.now().UTC()
	}
	b, err := json.Marshal(w)
	if err != nil {
		return 0, 0, fmt.Errorf("publish: encode: %w", err)
	}
	partition, offset, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(w.Layer),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("publish %s: %w", w.Layer, err)
	}
	return partition, offset, nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("producer close: %w", err)
	}
	return nil
}

package journal

import (
	"context"
	"fmt"
	"time"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
)

// Publisher рассылка записанных TradeRecord наружу.
type Publisher interface {
	Publish(ctx context.Context, rec models.TradeRecord) error
	Close() error
}

// Kafka JSON записи в топик, ключ: инструмент (порядок в пределах инструмента).
type Kafka struct {
	writer *kafka.Writer
	topic  string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Kafka{writer: w, topic: topic}, nil
}

func (k *Kafka) Publish(ctx context.Context, rec models.TradeRecord) error {
	data, err := encode(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.InstID),
		Value: data,
		Time:  rec.CycleAt,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Publishing Store + fan-out. Ошибка публикации только логируется.
type Publishing struct {
	Store
	pubs []Publisher
}

func WithPublishers(store Store, pubs ...Publisher) *Publishing {
	return &Publishing{Store: store, pubs: pubs}
}

func (p *Publishing) Record(ctx context.Context, rec *models.TradeRecord) error {
	if err := p.Store.Record(ctx, rec); err != nil {
		return err
	}
	for _, pub := range p.pubs {
		if err := pub.Publish(ctx, *rec); err != nil {
			logger.Warn("[JOURNAL] publish %s id=%d: %v", rec.CycleID, rec.ID, err)
		}
	}
	return nil
}

func (p *Publishing) Close() error {
	err := p.Store.Close()
	for _, pub := range p.pubs {
		err = multierr.Append(err, pub.Close())
	}
	return err
}

package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Kafka broadcasts over a single-partition topic. Every subscriber reads the partition
// without a consumer group, so each instance sees every event published after it subscribed.
type Kafka struct {
	brokers []string
	topic   string
	writer  *kafka.Writer
	log     *zap.Logger
}

// NewKafka returns a broadcaster for topic on brokers.
func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{brokers: brokers, topic: topic, writer: w, log: log}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Kind),
		Value: data,
		Time:  ev.At,
	})
}

func (k *Kafka) Subscribe(ctx context.Context) (<-chan Event, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6, // 10MB
		MaxWait:   time.Second,
	})
	if err := r.SetOffset(kafka.LastOffset); err != nil {
		r.Close()
		return nil, err
	}

	out := make(chan Event, subBuffer)
	go func() {
		defer close(out)
		defer r.Close()
		_ = consume(ctx, r, k.log, func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume reads until ctx is done or emit returns false. Undecodable messages are logged and skipped.
func consume(ctx context.Context, r messageReader, log *zap.Logger, emit func(Event) bool) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("kafka read", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		ev, err := decode(msg.Value)
		if err != nil {
			log.Warn("kafka decode", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if !emit(ev) {
			return ctx.Err()
		}
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/coordinate-info/internal/core/config"
	"github.com/mohammed-shakir/coordinate-info/internal/invalidation"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "comma separated Kafka brokers")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "feature-info-invalidation"), "invalidation topic")
	endpoint := flag.String("endpoint", "", "feature-info service url whose cached responses are stale")
	layer := flag.String("layer", "", "optional layer name")
	op := flag.String("op", "update", "insert|update|delete|reload")
	version := flag.Uint64("version", uint64(time.Now().UnixNano()), "monotonic event version")
	flag.Parse()

	ev := invalidation.Event{
		Version:  *version,
		Op:       *op,
		Endpoint: *endpoint,
		Layer:    *layer,
		TS:       time.Now().UTC(),
		Source:   "cli",
	}
	msg, err := newMessage(*topic, ev)
	if err != nil {
		log.Fatalf("invalid event: %v", err)
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	prod, err := sarama.NewSyncProducer(config.Brokers(*brokers), cfg)
	if err != nil {
		log.Fatalf("producer create: %v", err)
	}
	defer func() { _ = prod.Close() }()

	part, off, err := prod.SendMessage(msg)
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	log.Printf("invalidation sent endpoint=%s version=%d partition=%d offset=%d", ev.EndpointKey(), ev.Version, part, off)
}

// newMessage keys by endpoint so one endpoint's events stay ordered on a partition
func newMessage(topic string, ev invalidation.Event) (*sarama.ProducerMessage, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.EndpointKey()),
		Value: sarama.ByteEncoder(b),
	}, nil
}

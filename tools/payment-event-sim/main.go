package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/aline-moraes/chairbook/libs/kafkax"
)

// Publishes a synthetic payment outcome so a pending reservation can be
// confirmed without running the real payment pipeline.
func main() {
	var (
		brokers     = flag.String("brokers", getenv("KAFKA_BROKERS", "localhost:9092"), "kafka brokers (comma separated)")
		topic       = flag.String("topic", getenv("KAFKA_PAYMENT_TOPIC", "payment.payment.succeeded.v1"), "topic to publish to")
		reservation = flag.String("reservation-id", getenv("RESERVATION_ID", ""), "reservation to confirm")
	)
	flag.Parse()

	if strings.TrimSpace(*reservation) == "" {
		fatal("RESERVATION_ID is required")
	}

	payload, err := json.Marshal(map[string]any{
		"reservation_id": *reservation,
		"paid_at":        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		fatal(err.Error())
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(kafkax.SplitBrokers(*brokers)...),
		Topic:    *topic,
		Balancer: &kafka.Hash{},
	}
	defer writer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(*reservation),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(*topic)},
		},
	})
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("published reservation_id=%s topic=%s\n", *reservation, *topic)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

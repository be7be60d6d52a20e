package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"duka/internal/eventlog"
	"duka/internal/history"
	"duka/internal/mailer"
	"duka/internal/metrics"
	"duka/internal/model"
)

// The notifier decouples transactional email from the request path: it
// consumes order events from Kafka and mails confirmations and failure
// notices. Offsets are committed only after the mail call returns, so a
// crash re-delivers rather than drops.
func main() {
	var (
		bootstrap string
		groupID   string
		topic     string
		mailFrom  string
		httpAddr  string
	)
	flag.StringVar(&bootstrap, "bootstrap", "localhost:9092", "kafka bootstrap servers")
	flag.StringVar(&groupID, "group-id", "duka-notifier", "consumer group id")
	flag.StringVar(&topic, "topic", "duka.order-events", "order events topic")
	flag.StringVar(&mailFrom, "mail-from", "Duka <orders@duka.example>", "transactional mail sender")
	flag.StringVar(&httpAddr, "http", ":9090", "http listen for /metrics")
	flag.Parse()

	mail, err := mailer.New(mailFrom)
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}

	mreg := metrics.NewRegistry()
	go func() {
		http.Handle("/metrics", mreg.Handler())
		_ = http.ListenAndServe(httpAddr, nil)
	}()

	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		log.Fatalf("consumer: %v", err)
	}
	defer c.Close()

	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Printf("notifier started bootstrap=%s topic=%s group=%s", bootstrap, topic, groupID)

	for {
		msg, err := c.ReadMessage(10 * time.Second)
		if err != nil {
			// timeout or transient broker error; keep polling
			continue
		}
		var ev eventlog.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("bad event at %v: %v", msg.TopicPartition, err)
			_, _ = c.Commit()
			continue
		}
		if handle(mail, mreg, ev) {
			if _, err := c.Commit(); err != nil {
				log.Printf("commit: %v", err)
			}
		}
	}
}

// handle reports whether the event's offset may be committed. Delivery
// failures leave the offset uncommitted for redelivery.
func handle(mail *mailer.Mailer, mreg *metrics.Registry, ev eventlog.Event) bool {
	if ev.Email == "" || (ev.Type != eventlog.TypePaid && ev.Type != eventlog.TypeFailed) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o := model.Order{
		ID:        ev.OrderID,
		Reference: ev.Ref,
		Total:     ev.Amount,
		CreatedAt: history.DisplayTime(time.UnixMilli(ev.TS)),
	}
	var err error
	if ev.Type == eventlog.TypePaid {
		err = mail.SendOrderConfirmation(ctx, ev.Email, o)
	} else {
		err = mail.SendPaymentFailed(ctx, ev.Email, o)
	}
	if err != nil {
		log.Printf("send %s for %s: %v", ev.Type, ev.OrderID, err)
		return false
	}
	mreg.EmailsSent.Inc()
	log.Printf("sent %s mail for %s", ev.Type, ev.OrderID)
	return true
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"duka/internal/api"
	"duka/internal/archive"
	"duka/internal/catalog"
	"duka/internal/checkout"
	"duka/internal/eventlog"
	"duka/internal/history"
	"duka/internal/mailer"
	"duka/internal/metrics"
	"duka/internal/payments"
	"duka/internal/store"
)

// Config holds CLI flags for the storefront server.
type Config struct {
	Addr         string
	StateBackend string // memory|badger|pebble
	DataDir      string
	ArchiveDir   string
	ProductsPath string
	ImageDir     string
	MailFrom     string
	// Event sinks
	EventSink      string // file|kafka|both
	EventDir       string
	KafkaBootstrap string
	TopicEvents    string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Addr, "addr", ":8080", "listen address")
	flag.StringVar(&cfg.StateBackend, "state-backend", "badger", "state backend: memory|badger|pebble")
	flag.StringVar(&cfg.DataDir, "data-dir", "./data/duka", "state directory")
	flag.StringVar(&cfg.ArchiveDir, "archive-dir", "./archives", "pre-migration archive directory")
	flag.StringVar(&cfg.ProductsPath, "products", "./public/products.json", "product catalog path")
	flag.StringVar(&cfg.ImageDir, "image-dir", "public/images", "product image directory")
	flag.StringVar(&cfg.MailFrom, "mail-from", "Duka <orders@duka.example>", "transactional mail sender")
	flag.StringVar(&cfg.EventSink, "event-sink", "file", "order event sink: file|kafka|both")
	flag.StringVar(&cfg.EventDir, "event-dir", "./events", "event log directory for file sink")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", "", "kafka bootstrap servers, e.g. localhost:9092")
	flag.StringVar(&cfg.TopicEvents, "topic-events", "duka.order-events", "kafka topic for order events")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	log.Printf("starting duka server addr=%s backend=%s", cfg.Addr, cfg.StateBackend)

	// Init state store
	var st store.Store
	switch cfg.StateBackend {
	case "badger":
		bs, err := store.NewBadgerStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("init badger: %w", err)
		}
		st = bs
	case "pebble":
		ps, err := store.NewPebbleStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("init pebble: %w", err)
		}
		st = ps
	default:
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Init event log (file by default; kafka optional)
	var events eventlog.Writer
	if cfg.EventSink == "file" || cfg.EventSink == "both" || cfg.EventSink == "" {
		fw, err := eventlog.NewFileWriter(cfg.EventDir, "orders.jsonl")
		if err != nil {
			return fmt.Errorf("init event file: %w", err)
		}
		events = fw
	}
	if (cfg.EventSink == "kafka" || cfg.EventSink == "both") && cfg.KafkaBootstrap != "" {
		kw := eventlog.NewKafkaWriter(cfg.KafkaBootstrap, cfg.TopicEvents)
		if events == nil {
			events = kw
		} else {
			events = eventlog.NewMultiWriter(events, kw)
		}
	}

	// Externals, all optional: the catalog page and order history work
	// without any provider credentials.
	var card *payments.CardClient
	if key := os.Getenv("PAYSTACK_SECRET_KEY"); key != "" {
		card = payments.NewCardClient(key)
	} else {
		log.Printf("PAYSTACK_SECRET_KEY not set; card checkout disabled")
	}

	var mpesa *payments.MpesaClient
	if key := os.Getenv("MPESA_CONSUMER_KEY"); key != "" {
		mpesa = payments.NewMpesaClient(payments.MpesaConfig{
			ConsumerKey:    key,
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			Shortcode:      os.Getenv("MPESA_SHORTCODE"),
			Passkey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		})
	} else {
		log.Printf("MPESA_CONSUMER_KEY not set; mobile money disabled")
	}

	var mail *mailer.Mailer
	if m, err := mailer.New(cfg.MailFrom); err == nil {
		mail = m
	} else {
		log.Printf("mailer disabled: %v", err)
	}

	products, err := catalog.Load(cfg.ProductsPath)
	if err != nil {
		log.Printf("catalog unavailable: %v", err)
	}
	products = catalog.ResolveImages(products, cfg.ImageDir)

	norm := history.NewNormalizer(st).
		WithArchiver(archive.NewFilesystemArchiver(cfg.ArchiveDir))

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	srv := api.NewServer(api.Options{
		Store:    st,
		Norm:     norm,
		Checkout: checkout.NewService(st, events),
		Card:     card,
		Mpesa:    mpesa,
		Mail:     mail,
		Products: products,
		Metrics:  metrics.NewRegistry(),
	})
	srv.Register(e)

	return e.Start(cfg.Addr)
}

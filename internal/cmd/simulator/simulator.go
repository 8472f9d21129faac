// Package simulator parses simulator command flags and runs the order event
// simulator.
package simulator

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nsridhar76/go-orderprojector/internal/messaging"
	"github.com/nsridhar76/go-orderprojector/internal/messaging/kafka"
	"github.com/nsridhar76/go-orderprojector/internal/messaging/noop"
	entrypoint "github.com/nsridhar76/go-orderprojector/internal/platform/cmd"
	"github.com/nsridhar76/go-orderprojector/internal/simulator"
)

// Publisher backends.
const (
	PublisherKafka = "kafka"
	PublisherNoop  = "noop"
)

// Config holds simulator command configuration.
type Config struct {
	Publisher    string        `env:"ORDER_SIMULATOR_PUBLISHER" envDefault:"kafka"`
	KafkaBrokers []string      `env:"ORDER_SIMULATOR_KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Rounds       int           `env:"ORDER_SIMULATOR_ROUNDS" envDefault:"0"`
	MinDelay     time.Duration `env:"ORDER_SIMULATOR_MIN_DELAY" envDefault:"200ms"`
	MaxDelay     time.Duration `env:"ORDER_SIMULATOR_MAX_DELAY" envDefault:"500ms"`
	Seed         uint64        `env:"ORDER_SIMULATOR_SEED"`
	LogFormat    string        `env:"ORDER_SIMULATOR_LOG_FORMAT" envDefault:"json"`
	LogLevel     string        `env:"ORDER_SIMULATOR_LOG_LEVEL" envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	brokers := strings.Join(cfg.KafkaBrokers, ",")
	fs.StringVar(&cfg.Publisher, "publisher", cfg.Publisher, "Publisher: kafka or noop")
	fs.StringVar(&brokers, "kafka-brokers", brokers, "Comma-separated Kafka bootstrap addresses")
	fs.IntVar(&cfg.Rounds, "rounds", cfg.Rounds, "Orders to publish, 0 until stopped")
	fs.DurationVar(&cfg.MinDelay, "min-delay", cfg.MinDelay, "Minimum pause between events")
	fs.DurationVar(&cfg.MaxDelay, "max-delay", cfg.MaxDelay, "Maximum pause between events")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed, 0 for a time-based seed")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.KafkaBrokers = nil
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	return cfg, nil
}

// Run publishes simulated orders until the configured rounds are done or ctx
// is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger, err := entrypoint.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel, entrypoint.ServiceSimulator)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSimulator, logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("close publisher", "error", err)
		}
	}()

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger.InfoContext(ctx, "simulator started", "publisher", cfg.Publisher, "rounds", cfg.Rounds, "seed", seed)

	sim := simulator.New(publisher, simulator.NewGenerator(seed), simulator.Config{
		Rounds:   cfg.Rounds,
		MinDelay: cfg.MinDelay,
		MaxDelay: cfg.MaxDelay,
	}, logger)
	return sim.Run(ctx)
}

func newPublisher(cfg Config) (messaging.Publisher, error) {
	switch cfg.Publisher {
	case PublisherKafka:
		return kafka.NewPublisher(cfg.KafkaBrokers)
	case PublisherNoop:
		return noop.Publisher{}, nil
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Publisher)
	}
}

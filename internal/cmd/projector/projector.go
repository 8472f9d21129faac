// Package projector parses projector command flags and launches the
// projector runtime.
package projector

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	entrypoint "github.com/nsridhar76/go-orderprojector/internal/platform/cmd"
)

// Broker and store backends.
const (
	BrokerKafka   = "kafka"
	BrokerMemory  = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds projector command configuration.
type Config struct {
	Broker           string        `env:"ORDER_PROJECTOR_BROKER" envDefault:"kafka"`
	KafkaBrokers     []string      `env:"ORDER_PROJECTOR_KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroup       string        `env:"ORDER_PROJECTOR_KAFKA_GROUP" envDefault:"order-projector"`
	PollWait         time.Duration `env:"ORDER_PROJECTOR_POLL_WAIT" envDefault:"20s"`
	Store            string        `env:"ORDER_PROJECTOR_STORE" envDefault:"redis"`
	RedisAddr        string        `env:"ORDER_PROJECTOR_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix      string        `env:"ORDER_PROJECTOR_REDIS_PREFIX" envDefault:"orders_app"`
	PostgresDSN      string        `env:"ORDER_PROJECTOR_POSTGRES_DSN"`
	DeadLetterDB     string        `env:"ORDER_PROJECTOR_DEADLETTER_DB_PATH" envDefault:"data/deadletters.db"`
	HTTPAddr         string        `env:"ORDER_PROJECTOR_HTTP_ADDR" envDefault:":8080"`
	HealthAddr       string        `env:"ORDER_PROJECTOR_HEALTH_ADDR" envDefault:":8089"`
	MaxDeliveries    int           `env:"ORDER_PROJECTOR_MAX_DELIVERIES" envDefault:"8"`
	ConflictRetries  uint          `env:"ORDER_PROJECTOR_CONFLICT_RETRIES" envDefault:"5"`
	RetryBackoff     time.Duration `env:"ORDER_PROJECTOR_RETRY_BACKOFF" envDefault:"500ms"`
	RetryMaxDelay    time.Duration `env:"ORDER_PROJECTOR_RETRY_MAX_DELAY" envDefault:"30s"`
	Simulate         bool          `env:"ORDER_PROJECTOR_SIMULATE" envDefault:"false"`
	SimulateRounds   int           `env:"ORDER_PROJECTOR_SIMULATE_ROUNDS" envDefault:"0"`
	SimulateMinDelay time.Duration `env:"ORDER_PROJECTOR_SIMULATE_MIN_DELAY" envDefault:"200ms"`
	SimulateMaxDelay time.Duration `env:"ORDER_PROJECTOR_SIMULATE_MAX_DELAY" envDefault:"500ms"`
	LogFormat        string        `env:"ORDER_PROJECTOR_LOG_FORMAT" envDefault:"json"`
	LogLevel         string        `env:"ORDER_PROJECTOR_LOG_LEVEL" envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	brokers := strings.Join(cfg.KafkaBrokers, ",")
	fs.StringVar(&cfg.Broker, "broker", cfg.Broker, "Message broker: kafka or memory")
	fs.StringVar(&brokers, "kafka-brokers", brokers, "Comma-separated Kafka bootstrap addresses")
	fs.StringVar(&cfg.KafkaGroup, "kafka-group", cfg.KafkaGroup, "Kafka consumer group")
	fs.DurationVar(&cfg.PollWait, "poll-wait", cfg.PollWait, "Maximum wait of one poll")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "Projection store: redis or postgres")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Redis key prefix")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")
	fs.StringVar(&cfg.DeadLetterDB, "deadletter-db", cfg.DeadLetterDB, "Dead-letter SQLite path, empty to retry forever")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "Read API listen address, empty to disable")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address, empty to disable")
	fs.IntVar(&cfg.MaxDeliveries, "max-deliveries", cfg.MaxDeliveries, "Failed deliveries before dead-letter")
	fs.UintVar(&cfg.ConflictRetries, "conflict-retries", cfg.ConflictRetries, "Attempts per event when writes race")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base delay after a failed delivery")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum delay after a failed delivery")
	fs.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "Publish synthetic orders in-process (memory broker only)")
	fs.IntVar(&cfg.SimulateRounds, "simulate-rounds", cfg.SimulateRounds, "Orders to simulate, 0 until stopped")
	fs.DurationVar(&cfg.SimulateMinDelay, "simulate-min-delay", cfg.SimulateMinDelay, "Minimum pause between simulated events")
	fs.DurationVar(&cfg.SimulateMaxDelay, "simulate-max-delay", cfg.SimulateMaxDelay, "Maximum pause between simulated events")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: json or text")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.KafkaBrokers = splitList(brokers)
	return cfg, nil
}

// Validate reports configuration the runtime cannot start with.
func (c Config) Validate() error {
	switch c.Broker {
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	switch c.Store {
	case StoreRedis:
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Simulate && c.Broker != BrokerMemory {
		return fmt.Errorf("simulation requires the %s broker", BrokerMemory)
	}
	return nil
}

// Run starts the projector runtime.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := entrypoint.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel, entrypoint.ServiceProjector)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceProjector, logger, func(ctx context.Context) error {
		return runtime{cfg: cfg, logger: logger}.run(ctx)
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

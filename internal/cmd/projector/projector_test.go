package projector

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("projector", flag.ContinueOnError)
	t.Setenv("ORDER_PROJECTOR_REDIS_ADDR", "redis:6379")
	t.Setenv("ORDER_PROJECTOR_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := ParseConfig(fs, []string{"-max-deliveries", "3", "-store", "postgres", "-postgres-dsn", "postgres://x"})
	require.NoError(t, err)

	assert.Equal(t, BrokerKafka, cfg.Broker)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "order-projector", cfg.KafkaGroup)
	assert.Equal(t, 20*time.Second, cfg.PollWait)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "postgres://x", cfg.PostgresDSN)
	assert.Equal(t, 3, cfg.MaxDeliveries)
	assert.Equal(t, uint(5), cfg.ConflictRetries)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_KafkaBrokersFlag(t *testing.T) {
	fs := flag.NewFlagSet("projector", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, []string{"-kafka-brokers", " a:1, ,b:2 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Broker: BrokerKafka, KafkaBrokers: []string{"k:9092"}, Store: StoreRedis}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid"},
		{name: "unknown broker", mutate: func(c *Config) { c.Broker = "sqs" }, want: "unknown broker"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.KafkaBrokers = nil }, want: "kafka brokers"},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "dynamo" }, want: "unknown store"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store = StorePostgres }, want: "postgres dsn"},
		{name: "simulate on kafka", mutate: func(c *Config) { c.Simulate = true }, want: "simulation requires"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	err := Run(context.Background(), Config{Broker: "sqs", Store: StoreRedis})
	assert.ErrorContains(t, err, "unknown broker")
}

func TestRuntime_ProjectsSimulatedOrders(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{
		Broker:           BrokerMemory,
		Store:            StoreRedis,
		RedisAddr:        mr.Addr(),
		RedisPrefix:      "demo",
		DeadLetterDB:     filepath.Join(t.TempDir(), "dl.db"),
		HTTPAddr:         "127.0.0.1:0",
		HealthAddr:       "127.0.0.1:0",
		MaxDeliveries:    3,
		ConflictRetries:  20,
		RetryBackoff:     time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		Simulate:         true,
		SimulateRounds:   3,
		SimulateMaxDelay: time.Millisecond,
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runtime{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}.run(ctx)
	}()

	require.Eventually(t, func() bool {
		projections := 0
		for _, key := range mr.Keys() {
			if !strings.HasPrefix(key, "demo:") || !strings.HasSuffix(key, ":ORDER") {
				continue
			}
			if mr.HGet(key, "version") != "4" {
				return false
			}
			projections++
		}
		return projections == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestRuntime_FailsWhenStoreUnreachable(t *testing.T) {
	cfg := Config{Broker: BrokerMemory, Store: StoreRedis, RedisAddr: "127.0.0.1:1"}

	err := runtime{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}.run(context.Background())
	assert.ErrorContains(t, err, "ping redis")
}

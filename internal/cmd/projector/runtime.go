package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nsridhar76/go-orderprojector/internal/api/httpapi"
	"github.com/nsridhar76/go-orderprojector/internal/consumer"
	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
	"github.com/nsridhar76/go-orderprojector/internal/messaging/kafka"
	"github.com/nsridhar76/go-orderprojector/internal/messaging/memory"
	projection "github.com/nsridhar76/go-orderprojector/internal/projector"
	"github.com/nsridhar76/go-orderprojector/internal/simulator"
	"github.com/nsridhar76/go-orderprojector/internal/storage/postgres"
	redisstore "github.com/nsridhar76/go-orderprojector/internal/storage/redis"
	"github.com/nsridhar76/go-orderprojector/internal/storage/sqlite"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	healthService     = "order.projector"
)

type runtime struct {
	cfg    Config
	logger *slog.Logger
}

type stores struct {
	orders domain.OrderRepository
	events domain.EventLog
	close  func()
}

func (r runtime) run(ctx context.Context) error {
	st, err := r.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	var deadLetters *sqlite.Store
	if r.cfg.DeadLetterDB != "" {
		deadLetters, err = sqlite.Open(r.cfg.DeadLetterDB)
		if err != nil {
			return fmt.Errorf("open dead-letter store: %w", err)
		}
		defer func() {
			if err := deadLetters.Close(); err != nil {
				r.logger.Error("close dead-letter store", "error", err)
			}
		}()
	}

	subscriber, broker, err := r.openBroker()
	if err != nil {
		return err
	}

	proj := projection.New(st.orders, st.events,
		projection.WithRetryPolicy(projection.RetryPolicy{MaxAttempts: r.cfg.ConflictRetries}),
		projection.WithLogger(r.logger),
	)
	opts := []consumer.Option{consumer.WithLogger(r.logger)}
	api := httpapi.Dependencies{Orders: st.orders, Events: st.events, Rebuilder: proj, Logger: r.logger}
	if deadLetters != nil {
		opts = append(opts, consumer.WithDeadLetters(deadLetters))
		api.DeadLetters = deadLetters
	}
	group := consumer.NewGroup(subscriber, proj, consumer.Config{
		MaxDeliveries: r.cfg.MaxDeliveries,
		RetryBackoff:  r.cfg.RetryBackoff,
		RetryMaxDelay: r.cfg.RetryMaxDelay,
	}, nil, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(ctx)
	abort := func(err error) error {
		cancel()
		_ = eg.Wait()
		return err
	}

	if r.cfg.HTTPAddr != "" {
		if err := r.serveHTTP(egCtx, eg, httpapi.NewRouter(api)); err != nil {
			return abort(err)
		}
	}
	if r.cfg.HealthAddr != "" {
		if err := r.serveHealth(egCtx, eg); err != nil {
			return abort(err)
		}
	}
	eg.Go(func() error { return group.Run(egCtx) })
	if r.cfg.Simulate && broker != nil {
		sim := simulator.New(broker, simulator.NewGenerator(uint64(time.Now().UnixNano())), simulator.Config{
			Rounds:   r.cfg.SimulateRounds,
			MinDelay: r.cfg.SimulateMinDelay,
			MaxDelay: r.cfg.SimulateMaxDelay,
		}, r.logger)
		eg.Go(func() error { return sim.Run(egCtx) })
	}

	r.logger.InfoContext(ctx, "projector started", "broker", r.cfg.Broker, "store", r.cfg.Store)
	err = eg.Wait()
	r.logger.Info("projector stopped")
	return err
}

func (r runtime) openStores(ctx context.Context) (stores, error) {
	switch r.cfg.Store {
	case StorePostgres:
		pool, err := postgres.Open(ctx, r.cfg.PostgresDSN)
		if err != nil {
			return stores{}, err
		}
		return stores{
			orders: postgres.NewOrderStore(pool),
			events: postgres.NewEventLog(pool),
			close:  pool.Close,
		}, nil
	default:
		client, err := redisstore.Open(ctx, r.cfg.RedisAddr)
		if err != nil {
			return stores{}, err
		}
		return stores{
			orders: redisstore.NewOrderStore(client, r.cfg.RedisPrefix),
			events: redisstore.NewEventLog(client, r.cfg.RedisPrefix),
			close: func() {
				if err := client.Close(); err != nil {
					r.logger.Error("close redis client", "error", err)
				}
			},
		}, nil
	}
}

// openBroker returns the subscriber for the workers and, for the in-memory
// broker, the broker itself so a simulator can publish into it.
func (r runtime) openBroker() (messaging.Subscriber, *memory.Broker, error) {
	if r.cfg.Broker == BrokerMemory {
		broker := memory.NewBroker(0)
		return broker, broker, nil
	}
	subscriber, err := kafka.NewSubscriber(kafka.Config{
		Brokers:  r.cfg.KafkaBrokers,
		GroupID:  r.cfg.KafkaGroup,
		PollWait: r.cfg.PollWait,
	})
	if err != nil {
		return nil, nil, err
	}
	return subscriber, nil, nil
}

func (r runtime) serveHTTP(ctx context.Context, eg *errgroup.Group, handler http.Handler) error {
	listener, err := net.Listen("tcp", r.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on http address %s: %w", r.cfg.HTTPAddr, err)
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}

	eg.Go(func() error {
		r.logger.Info("read api listening", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return nil
}

func (r runtime) serveHealth(ctx context.Context, eg *errgroup.Group) error {
	listener, err := net.Listen("tcp", r.cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on health address %s: %w", r.cfg.HealthAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	eg.Go(func() error {
		r.logger.Info("health server listening", "addr", listener.Addr().String())
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve health: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	return nil
}

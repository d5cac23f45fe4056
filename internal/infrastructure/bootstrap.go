package infrastructure

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"giftpool/internal/clock"
	"giftpool/internal/config"
	"giftpool/internal/gameclient"
	"giftpool/internal/metrics"
	"giftpool/internal/repository"
	"giftpool/internal/service"
	transportGRPC "giftpool/internal/transport/grpc"
	transportHTTP "giftpool/internal/transport/http"
	transportNATS "giftpool/internal/transport/nats"
	"giftpool/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)
	bus := transportNATS.NewBus(nc)

	// ── Stores and collaborators ───────────────────────────────────────────
	accounts := repository.NewAccountStore(db)
	keys := repository.NewKeyLedger(rdb, db, bus)
	catalog := repository.NewCatalog(db)
	audit := repository.NewAuditStore(db)

	broker := gameclient.NewBroker(cfg.BrokerURL)
	client, err := gameclient.New(cfg.GameApiURL, broker, cfg.ProxiesFile)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	orchestrator := service.NewOrchestrator(
		accounts, keys, catalog, client, bus, m,
		clock.RealClock{},
		service.Pacing{
			LoginDelay: cfg.LoginDelay,
			SendDelay:  cfg.SendDelay,
			BlockFor:   time.Duration(cfg.BlockHours) * time.Hour,
		},
	)
	var svc service.GiftService = orchestrator

	// ── Servers ────────────────────────────────────────────────────────────
	var servers []Server

	servers = append(servers, worker.NewTransactionWorker(keys, audit, nc))
	servers = append(servers, transportNATS.NewHandler(svc, nc))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc))
	}
	if addr, grpcErr := cfg.GRPCAddr(); grpcErr == nil {
		servers = append(servers, transportGRPC.NewServer(addr))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}

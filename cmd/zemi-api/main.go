// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"zemi/internal/config"
	httptransport "zemi/internal/http"
	"zemi/internal/infra"
	"zemi/internal/logger"
	"zemi/internal/modules/credit"
	"zemi/internal/modules/driver"
	"zemi/internal/modules/ledger"
	"zemi/internal/modules/notify"
	"zemi/internal/modules/payment"
	"zemi/internal/modules/presence"
	"zemi/internal/modules/rating"
	"zemi/internal/modules/settlement"
	"zemi/internal/modules/trip"
	"zemi/internal/txn"
)

type stores struct {
	tx      txn.Manager
	grants  ledger.Store
	drivers driver.Store
	trips   trip.Store
	ratings rating.Store
}

func postgresStores(pool *pgxpool.Pool, retries int) stores {
	retry := txn.DefaultRetry
	retry.Attempts = retries
	return stores{
		tx:      txn.NewPgManager(pool, retry),
		grants:  ledger.NewStore(pool),
		drivers: driver.NewStore(pool),
		trips:   trip.NewStore(pool),
		ratings: rating.NewStore(pool),
	}
}

func memoryStores() stores {
	tx := txn.NewMemManager()
	return stores{
		tx:      tx,
		grants:  ledger.NewMemoryStore(tx),
		drivers: driver.NewMemoryStore(tx),
		trips:   trip.NewMemoryStore(tx),
		ratings: rating.NewMemoryStore(),
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st stores
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.WithError(err).Fatal("postgres init")
		}
		defer pool.Close()
		st = postgresStores(pool, cfg.DB.TxRetries)
	} else {
		log.Warn("ZEMI_DB_DSN not set, using in-memory stores")
		st = memoryStores()
	}

	var redisClient *redis.Client
	presenceStore := presence.Store(presence.NewMemoryStore())
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.WithError(err).Fatal("redis init")
		}
		defer redisClient.Close()
		presenceStore = presence.NewRedisStore(redisClient)
	}
	online := presence.NewService(presenceStore, cfg.Notify.Fanout)

	verifier, backends, closers := identityAndBackends(ctx, cfg, log, redisClient)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("close broker connection")
			}
		}
	}()
	dispatcher := notify.NewDispatcher(log, cfg.Notify.Buffer, cfg.Notify.Workers, backends...)
	dispatcher.Start()
	defer dispatcher.Close()

	ledgerSvc := ledger.NewService(st.grants, st.tx)
	driverSvc := driver.NewService(st.drivers, st.tx, driver.Options{
		TrialTrips: cfg.TrialTrips,
		Presence:   online,
		Logger:     log,
	})
	tripSvc := trip.NewService(st.trips, st.tx, trip.Config{
		Fare:       cfg.Trip.Fare,
		RequestTTL: cfg.Trip.RequestTTL,
		ExpiryTick: cfg.Trip.ExpiryTick,
	}, trip.Deps{
		Gate:     driverSvc,
		Credits:  st.grants,
		Events:   dispatcher,
		Targeter: online,
		Logger:   log,
	})
	engine := settlement.NewEngine(st.drivers, ledgerSvc, st.tx, driverSvc, log)
	tripSvc.SetSettler(engine)

	var confirmer payment.Confirmer
	if cfg.Payment.StripeKey != "" {
		confirmer = payment.NewStripeConfirmer(cfg.Payment.StripeKey)
	} else {
		log.Warn("ZEMI_STRIPE_KEY not set, purchase endpoints disabled")
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Allocator:  credit.NewAllocator(st.grants, tripSvc, st.tx, log),
		Trips:      tripSvc,
		Drivers:    driverSvc,
		Settlement: engine,
		Ledger:     ledgerSvc,
		Ratings:    rating.NewService(st.ratings, st.trips),
		Payments:   payment.NewService(confirmer, ledgerSvc, driverSvc, cfg.Payment, log),
		Verifier:   verifier,
		Logger:     log,
	})

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		tripSvc.RunRequestExpiry(ctx)
	}()

	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("http server stopped")
		stop()
	}
	// Handlers still running past the shutdown timeout publish into a closed
	// dispatcher; their events are dropped.
	workers.Wait()
}

// identityAndBackends builds the token verifier for the configured auth mode
// and every notification backend whose settings are present.
func identityAndBackends(ctx context.Context, cfg config.Config, log *logrus.Logger, redisClient *redis.Client) (infra.TokenVerifier, []notify.Notifier, []io.Closer) {
	backends := []notify.Notifier{notify.NewLogNotifier(log)}
	var closers []io.Closer
	if redisClient != nil {
		backends = append(backends, notify.NewRedisNotifier(redisClient))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, w)
		backends = append(backends, notify.NewKafkaNotifier(w))
	}
	if cfg.AMQP.URL != "" {
		conn, ch, err := infra.NewRabbitChannel(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.WithError(err).Fatal("rabbitmq init")
		}
		closers = append(closers, conn)
		backends = append(backends, notify.NewRabbitNotifier(ch, cfg.AMQP.Exchange))
	}

	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.Credentials)
		if err != nil {
			log.WithError(err).Fatal("firebase init")
		}
		fcm, err := infra.NewMessaging(ctx, app)
		if err != nil {
			log.WithError(err).Fatal("firebase messaging init")
		}
		backends = append(backends, notify.NewFCMNotifier(fcm))
		if cfg.Auth.Mode == "firebase" {
			if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
				log.WithError(err).Fatal("firebase auth init")
			}
		}
	}
	if verifier == nil {
		verifier = infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	}
	return verifier, backends, closers
}

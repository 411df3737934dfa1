package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"campusmarket/internal/app/commands"
	chatapp "campusmarket/internal/app/handlers/chat"
	listingsapp "campusmarket/internal/app/handlers/listings"
	"campusmarket/internal/app/middleware"
	appoutbox "campusmarket/internal/app/outbox"
	"campusmarket/internal/app/policies"
	"campusmarket/internal/app/queries"
	authsvc "campusmarket/internal/app/services/auth"
	domainauth "campusmarket/internal/domain/auth"
	domainlistings "campusmarket/internal/domain/listings"
	domainmessaging "campusmarket/internal/domain/messaging"
	domainuser "campusmarket/internal/domain/user"
	"campusmarket/internal/infra/broker/kafka"
	"campusmarket/internal/infra/config"
	"campusmarket/internal/infra/db/mongo"
	ginserver "campusmarket/internal/infra/http/gin"
	"campusmarket/internal/infra/inbox"
	messagingclient "campusmarket/internal/infra/messaging"
	"campusmarket/internal/infra/obs"
	infraoutbox "campusmarket/internal/infra/outbox"
	"campusmarket/internal/infra/realtime"
	"campusmarket/internal/infra/security"
	"campusmarket/internal/infra/storage/memory"
	"campusmarket/internal/infra/storage/s3"
	"campusmarket/internal/infra/validation"
)

type application struct {
	handlers ginserver.Handlers
	auth     *authsvc.Service
	hub      *realtime.Hub
	repos    struct {
		users    domainuser.Repository
		listings domainlistings.Repository
	}

	checks     []obs.Check
	background []backgroundTask
	closers    []func(context.Context) error
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type backgroundTask struct {
	name string
	run  func(context.Context) error
}

type stores struct {
	users       domainuser.Repository
	sessions    domainauth.SessionStore
	listings    domainlistings.Repository
	favorites   domainlistings.FavoriteRepository
	idempotency middleware.IdempotencyStore
	outbox      appoutbox.Outbox
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{hub: realtime.NewHub(logger, 0)}

	var (
		st  stores
		err error
	)
	if cfg.UsesMongo() {
		st, err = app.mongoStores(ctx, cfg, logger)
	} else {
		st = app.memoryStores(cfg)
	}
	if err != nil {
		app.close(logger)
		return nil, err
	}

	conversations, err := app.conversationRepository(ctx, cfg, logger)
	if err != nil {
		app.close(logger)
		return nil, err
	}

	var (
		storage       chatapp.AttachmentStorage
		storagePrefix string
	)
	if cfg.S3Endpoint != "" {
		client, err := s3.NewClient(s3.Config{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.S3Bucket,
			UseSSL:         cfg.S3UseSSL,
		}, logger)
		if err != nil {
			app.close(logger)
			return nil, fmt.Errorf("object storage: %w", err)
		}
		storage = client
		storagePrefix = client.PublicPrefix()
		app.checks = append(app.checks, obs.Check{Name: "object storage", Probe: client.Ready})
	} else {
		logger.Warn("S3_ENDPOINT not set, attachment uploads are disabled")
	}

	app.auth = &authsvc.Service{
		Users:       st.users,
		Sessions:    st.sessions,
		Passwords:   security.BcryptHasher{},
		Tokens:      security.RandomTokenGenerator{Prefix: "cm_"},
		SessionTTL:  cfg.SessionTTL,
		AdminEmails: cfg.AdminEmails,
		Logger:      logger,
	}
	app.repos.users = st.users
	app.repos.listings = st.listings

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	listingsapp.Register(cmdBus, queryBus, &listingsapp.Deps{
		Listings:  st.listings,
		Favorites: st.favorites,
		Users:     st.users,
		Outbox:    st.outbox,
		Encoder:   appoutbox.JSONEventEncoder{},
		Logger:    logger,
	})
	chatapp.Register(cmdBus, queryBus, &chatapp.Deps{
		Conversations: conversations,
		Users:         st.users,
		Listings:      st.listings,
		Outbox:        st.outbox,
		Encoder:       appoutbox.JSONEventEncoder{},
		Storage:       storage,
		StoragePrefix: storagePrefix,
		Logger:        logger,
	})

	v := validation.New()
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Logging(logger, obs.RequestIDFromContext),
		middleware.Validation(v),
		middleware.Authorization(policies.RoleAuthorizer{}),
		middleware.Idempotency(st.idempotency, nil),
		middleware.OutboxFlush(st.outbox, logger),
	)
	qs := middleware.ChainQueries(queryBus,
		middleware.QueryLogging(logger, obs.RequestIDFromContext),
		middleware.QueryValidation(v),
		middleware.QueryAuthorization(policies.RoleAuthorizer{}),
	)

	app.handlers = ginserver.Handlers{
		Auth:           ginserver.AuthHandler{Service: app.auth, Logger: logger},
		Listing:        ginserver.ListingHandler{Commands: cmds, Queries: qs, Logger: logger},
		Chat:           ginserver.ChatHandler{Commands: cmds, Queries: qs, Logger: logger},
		Admin:          ginserver.AdminHandler{Commands: cmds, Queries: qs, Logger: logger},
		Realtime:       ginserver.RealtimeHandler{Hub: app.hub, Queries: qs, Logger: logger},
		AuthMiddleware: ginserver.AuthMiddleware{Service: app.auth, Logger: logger}.Handle,
	}
	return app, nil
}

func (a *application) memoryStores(cfg config.Config) stores {
	return stores{
		users:       memory.NewUserRepository(),
		sessions:    memory.NewSessionStore(),
		listings:    memory.NewListingRepository(),
		favorites:   memory.NewFavoriteRepository(),
		idempotency: memory.NewIdempotencyStore(cfg.IdempotencyTTL),
		outbox:      memory.NewOutbox(a.hub),
	}
}

// mongoStores persists the marketplace in MongoDB. Events leave through the outbox
// collection and reach the local hub via Kafka so every instance sees every message.
func (a *application) mongoStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	client, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return stores{}, fmt.Errorf("mongo connect: %w", err)
	}
	a.closers = append(a.closers, client.Disconnect)
	a.checks = append(a.checks, obs.Check{Name: "mongo", Probe: client.Ping})

	queue := infraoutbox.NewStore(client.DB)
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
	if err != nil {
		return stores{}, fmt.Errorf("kafka producer: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return producer.Close() })

	instance := instanceID()
	receipts, err := inbox.NewStore(ctx, client.DB, "realtime-"+instance)
	if err != nil {
		return stores{}, err
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID + "-" + instance,
		Handler: kafka.Relay{
			Inbox:     receipts,
			Publisher: a.hub,
			Logger:    logger,
		},
		Backoff: cfg.RetryBackoff,
		Logger:  logger,
	})
	if err != nil {
		return stores{}, fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return consumer.Close() })

	worker := &infraoutbox.Worker{
		Store:       queue,
		Producer:    producer,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ID:          instance,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
	}
	topics := kafka.Topics(cfg.KafkaTopicPrefix)
	a.background = append(a.background,
		backgroundTask{name: "outbox worker", run: worker.Run},
		backgroundTask{name: "realtime relay", run: func(ctx context.Context) error { return consumer.Run(ctx, topics) }},
	)

	return stores{
		users:       mongo.NewUserRepository(client.DB),
		sessions:    mongo.NewSessionStore(client.DB),
		listings:    mongo.NewListingRepository(client.DB),
		favorites:   mongo.NewFavoriteRepository(client.DB),
		idempotency: mongo.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL),
		outbox:      queue,
	}, nil
}

func (a *application) conversationRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (domainmessaging.Repository, error) {
	if !cfg.UsesMessagingService() {
		logger.Info("conversations kept in memory")
		return memory.NewMessagingStore(), nil
	}
	client, err := messagingclient.NewClient(ctx, messagingclient.Config{
		Addr:        cfg.MessagingGRPCAddr,
		DialTimeout: cfg.MessagingGRPCDial,
		CallTimeout: cfg.MessagingGRPCTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("messaging service: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.checks = append(a.checks, obs.Check{Name: "messaging service", Probe: func(context.Context) error { return client.Ready() }})
	return client, nil
}

func (a *application) health() obs.HealthHandlers {
	return obs.HealthHandlers{Checks: a.checks, Timeout: 2 * time.Second}
}

func (a *application) startBackground(ctx context.Context, logger *slog.Logger) {
	for _, task := range a.background {
		a.wg.Add(1)
		go func(task backgroundTask) {
			defer a.wg.Done()
			logger.Info("background task started", "task", task.name)
			if err := task.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task stopped", "task", task.name, "error", err)
				return
			}
			logger.Info("background task stopped", "task", task.name)
		}(task)
	}
}

func (a *application) wait() {
	a.wg.Wait()
}

func (a *application) close(logger *slog.Logger) {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.hub.Close()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				logger.Warn("shutdown step failed", "error", err)
			}
		}
	})
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

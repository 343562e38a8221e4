package main

import (
	"context"
	"log"

	"finmirror/internal/domain/openfinance"
	"finmirror/internal/domain/user"
	ofclient "finmirror/internal/infrastructure/openfinance"
	"finmirror/internal/infrastructure/postgres"
	"finmirror/internal/infrastructure/redis"
	httphandlers "finmirror/internal/interfaces/http"
	"finmirror/internal/interfaces/scheduler"
	"finmirror/internal/shared/auth"
	"finmirror/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB    *postgres.DB
	Redis *redis.Client

	// Handlers
	UserHandler        *httphandlers.UserHandler
	BankHandler        *httphandlers.BankHandler
	TransactionHandler *httphandlers.TransactionHandler
	WebhookHandler     *httphandlers.WebhookHandler

	// Auth
	JWT *auth.JWT

	// Sync (for scheduler and webhooks)
	Orchestrator *openfinance.SyncOrchestrator
	WorkerPool   *scheduler.WorkerPool
	ItemRepo     *postgres.ItemRepository
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	itemRepo := postgres.NewItemRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	// Item lock: shared through Redis when configured so replicas never sync
	// the same item at once
	var locker openfinance.ItemLocker = openfinance.NewMemoryItemLocker()
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		locker = redis.NewItemLocker(redisClient.Client, cfg.Redis.LockTTL)
		log.Printf("Using Redis item lock at %s", cfg.Redis.Addr)
	} else {
		log.Println("Using in-process item lock")
	}

	// Provider client and sync engine
	ofClient := ofclient.NewClient(ofclient.Config{
		BaseURL:  cfg.Provider.BaseURL,
		ClientID: cfg.Provider.ClientID,
		Secret:   cfg.Provider.Secret,
		Timeout:  cfg.Provider.Timeout,
		PageSize: cfg.Provider.PageSize,
	})
	store := openfinance.NewRepositoryStore(itemRepo, accountRepo, transactionRepo)
	engine := openfinance.NewTransactionSyncService(ofClient, store, openfinance.SyncOptions{
		MaxAttempts:        cfg.Sync.MaxAttempts,
		RetryDelay:         cfg.Sync.RetryDelay,
		PageTimeout:        cfg.Sync.PageTimeout,
		MaxPagesPerAttempt: cfg.Sync.MaxPagesPerAttempt,
	})
	orchestrator := openfinance.NewSyncOrchestrator(engine, store, locker, cfg.Sync.MaxConcurrentItems)
	itemService := openfinance.NewItemService(store, itemRepo, ofClient, locker)
	userService := user.NewService(userRepo, itemService)

	// The pool serves scheduled user syncs and webhook item syncs
	pool := scheduler.NewWorkerPool(cfg.Scheduler.WorkerCount, cfg.Scheduler.JobDelay, cfg.Scheduler.QueueSize)

	jwt := auth.NewJWT(cfg.JWT.Secret, cfg.Session.TTL)

	return &Dependencies{
		DB:                 db,
		Redis:              redisClient,
		UserHandler:        httphandlers.NewUserHandler(userService, jwt, cfg.Session.SecureCookie || cfg.TLS.Enabled),
		BankHandler:        httphandlers.NewBankHandler(itemService),
		TransactionHandler: httphandlers.NewTransactionHandler(orchestrator, transactionRepo),
		WebhookHandler:     httphandlers.NewWebhookHandler(scheduler.NewSyncQueue(pool, orchestrator)),
		JWT:                jwt,
		Orchestrator:       orchestrator,
		WorkerPool:         pool,
		ItemRepo:           itemRepo,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

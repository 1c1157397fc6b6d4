package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/config"
	"github.com/contentmine/engine/internal/httpapi"
	"github.com/contentmine/engine/internal/httpapi/handlers"
	"github.com/contentmine/engine/internal/ledger"
	"github.com/contentmine/engine/internal/storage"
	"github.com/contentmine/engine/internal/store/rabbitmq"
	"github.com/contentmine/engine/internal/workflow"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to build progress store: %v", err)
	}

	registry := ai.NewRegistry()
	registry.Register("ollama", func(ctx context.Context, model, apiKey string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	registry.Register("openrouter", func(ctx context.Context, model, apiKey string) (ai.Provider, error) {
		if apiKey == "" {
			apiKey = cfg.OpenRouterAPIKey
		}
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, apiKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})

	ipfsStore, err := storage.NewIPFSStore(cfg.IPFSAPIURL, cfg.IPFSGatewayURL, cfg.MaxContentBytes)
	if err != nil {
		log.Fatalf("failed to connect to IPFS: %v", err)
	}

	if cfg.LedgerRPCURL == "" {
		log.Fatal("LEDGER_RPC_URL is required")
	}
	contractLedger, err := ledger.NewContractLedger(cfg.LedgerRPCURL, cfg.LedgerContract, cfg.LedgerPrivateKey, cfg.LedgerChainID, cfg.BatchSize)
	if err != nil {
		log.Fatalf("failed to connect to ledger: %v", err)
	}
	defer contractLedger.Close()

	clock := workflow.SystemClock()
	batches := workflow.NewBatchRegistry(contractLedger, store, clock, cfg.BatchSize, cfg.BatchTimeout)
	executor := workflow.NewStageExecutor(store, registry, ipfsStore, batches, clock)
	engine := workflow.NewEngine(workflow.Options{
		Store:    store,
		Executor: executor,
		Batches:  batches,
		Clock:    clock,
	})

	if n, err := engine.RecoverStale(ctx, cfg.StaleGrace); err != nil {
		log.Errorf("stale recovery failed: %v", err)
	} else if n > 0 {
		log.Infof("recovered %d stale submissions from prior run", n)
	}

	batches.StartSweeper(ctx, cfg.SweepInterval)
	engine.StartJanitor(ctx, cfg.JanitorInterval, cfg.RetentionWindow)

	var intake handlers.IntakePublisher
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warnf("intake queue unavailable, async enqueue disabled: %v", err)
		} else {
			defer pub.Close()
			intake = pub
		}
	}

	router := httpapi.NewRouter(engine, cfg, intake)
	log.Infof("server listening on %s (batch_size=%d, batch_timeout=%s)", cfg.HTTPAddr, cfg.BatchSize, cfg.BatchTimeout)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func buildStore(cfg config.Config) (workflow.ProgressStore, error) {
	var inner workflow.ProgressStore

	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		inner = workflow.NewRedisStore(client, cfg.RetentionWindow)
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.DBDSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		inner, err = workflow.NewGormStore(db)
		if err != nil {
			return nil, err
		}
	default:
		db, err := gorm.Open(sqlite.Open(cfg.DBDSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		inner, err = workflow.NewGormStore(db)
		if err != nil {
			return nil, err
		}
	}

	if cfg.StoreCache > 0 {
		return workflow.NewCachedStore(inner, cfg.StoreCache)
	}
	return inner, nil
}

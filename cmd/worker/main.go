package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/contentmine/engine/internal/ai"
	"github.com/contentmine/engine/internal/config"
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

	queue := workflow.NewSubmissionQueue(ctx, engine.Submit, cfg.QueuePacing, clock)
	engine.AttachQueue(queue)

	if n, err := engine.RecoverStale(ctx, cfg.StaleGrace); err != nil {
		log.Errorf("stale recovery failed: %v", err)
	} else if n > 0 {
		log.Infof("recovered %d stale submissions from prior run", n)
	}

	batches.StartSweeper(ctx, cfg.SweepInterval)
	engine.StartJanitor(ctx, cfg.JanitorInterval, cfg.RetentionWindow)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	// same topology as the publisher; inequivalent arguments on a
	// redeclare are a channel error
	if err := rabbitmq.NewTopology(cfg.RabbitQueue).Declare(ch); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	// single consumer keeps intake order; pacing happens in the queue
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Infof("intake worker started, queue=%s pacing=%s", cfg.RabbitQueue, cfg.QueuePacing)

	for {
		select {
		case <-ctx.Done():
			log.Info("intake worker shutting down")
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}

			var submission workflow.SubmissionConfig
			if err := json.Unmarshal(d.Body, &submission); err != nil {
				log.Warnf("bad intake message: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			queue.Enqueue(submission)
			if err := d.Ack(false); err != nil {
				log.Warnf("ack failed: %v", err)
			}
		}
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

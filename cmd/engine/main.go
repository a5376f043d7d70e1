package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/groupguard/mod-engine/internal/audit"
	"github.com/groupguard/mod-engine/internal/banlist"
	"github.com/groupguard/mod-engine/internal/catalog"
	"github.com/groupguard/mod-engine/internal/challenge"
	"github.com/groupguard/mod-engine/internal/dispatch"
	"github.com/groupguard/mod-engine/internal/enforce"
	"github.com/groupguard/mod-engine/internal/gateway"
	"github.com/groupguard/mod-engine/internal/messaging"
	"github.com/groupguard/mod-engine/internal/metrics"
	"github.com/groupguard/mod-engine/internal/policy"
)

// auditRecorder persists audit entries to Postgres and fans them out on the
// NATS audit subject. Either sink may be absent.
type auditRecorder struct {
	store *audit.Store
	nats  *messaging.NATSClient
}

func (r *auditRecorder) Record(ctx context.Context, entry audit.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if r.store != nil {
		if err := r.store.Record(ctx, entry); err != nil {
			return err
		}
	}
	if r.nats != nil {
		data, err := json.Marshal(entry)
		if err == nil {
			if err := r.nats.PublishAudit(data); err != nil {
				log.Printf("[audit] publish: %v", err)
			}
		}
	}
	return nil
}

func main() {
	log.Println("Starting moderation engine...")

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Postgres audit log (optional) ---
	recorder := &auditRecorder{nats: natsClient}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		migrationsDir := "file://internal/audit/migrations"
		if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
			migrationsDir = v
		}
		if err := audit.RunMigrations(migrationsDir, dbURL); err != nil {
			log.Fatalf("failed to run audit migrations: %v", err)
		}

		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("failed to open Postgres: %v", err)
		}
		if err := db.PingContext(context.Background()); err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer db.Close()
		recorder.store = audit.NewStore(db)
	} else {
		log.Printf("DATABASE_URL not set, audit log disabled (NATS fan-out only)")
	}

	// --- Policy source and refresher ---
	sourceConfig := policy.DefaultHTTPSourceConfig()
	sourceConfig.BaseURL = os.Getenv("POLICY_BASE_URL")
	sourceConfig.SpreadsheetID = os.Getenv("POLICY_SPREADSHEET_ID")
	if sourceConfig.BaseURL == "" || sourceConfig.SpreadsheetID == "" {
		log.Fatalf("POLICY_BASE_URL and POLICY_SPREADSHEET_ID are required")
	}
	if v := os.Getenv("POLICY_WORD_RANGE"); v != "" {
		sourceConfig.WordRange = v
	}
	if v := os.Getenv("POLICY_MODE_CELL"); v != "" {
		sourceConfig.ModeCell = v
	}

	refresherConfig := policy.DefaultRefresherConfig()
	if v := os.Getenv("POLICY_WORD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			refresherConfig.WordInterval = d
		}
	}
	if v := os.Getenv("POLICY_MODE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			refresherConfig.ModeInterval = d
		}
	}

	source := policy.NewHTTPSource(sourceConfig)
	refresher := policy.NewRefresher(source, policy.NewCache(rdb), refresherConfig)

	ctx, stop := context.WithCancel(context.Background())
	refresher.WarmStart(ctx)
	go refresher.Run(ctx)

	// --- Challenge assets ---
	assets := catalog.Default()
	if path := os.Getenv("CATALOG_PATH"); path != "" {
		assets, err = catalog.LoadFile(path)
		if err != nil {
			log.Fatalf("failed to load challenge catalog: %v", err)
		}
	}

	// --- Gateway and enforcement ---
	gw := gateway.NewNATSGateway(natsClient, natsConfig.RequestTimeout)
	bans := banlist.NewStore(rdb)

	enforceConfig := enforce.DefaultConfig()
	if v := os.Getenv("GRACE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			enforceConfig.GraceDelay = d
		}
	}
	executor := enforce.NewExecutor(gw, bans, recorder, enforceConfig)

	// --- Dispatcher ---
	dispatchConfig := dispatch.DefaultConfig()
	if v := os.Getenv("ANSWER_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dispatchConfig.AnswerWindow = d
		}
	}

	store := challenge.NewStore()
	scheduler := challenge.NewScheduler()

	dispatcher := dispatch.New(dispatchConfig, dispatch.Deps{
		Policy:    refresher,
		Store:     store,
		Scheduler: scheduler,
		Assets:    assets,
		Gateway:   gw,
		Enforcer:  executor,
		Bans:      bans,
		Auditor:   recorder,
	})

	// --- Inbound event feed ---
	feedConfig := gateway.DefaultFeedConfig()
	feedConfig.URL = os.Getenv("GATEWAY_WS_URL")
	if feedConfig.URL == "" {
		log.Fatalf("GATEWAY_WS_URL is required")
	}
	feed := gateway.NewFeed(feedConfig, dispatcher)
	go feed.Run(ctx)

	// --- Metrics endpoint ---
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[metrics] server error: %v", err)
		}
	}()

	log.Printf("Moderation engine running")
	log.Printf("  redis_addr:     %s", redisAddr)
	log.Printf("  nats_url:       %s", natsConfig.URL)
	log.Printf("  gateway_ws:     %s", feedConfig.URL)
	log.Printf("  policy_base:    %s", sourceConfig.BaseURL)
	log.Printf("  word_interval:  %s", refresherConfig.WordInterval)
	log.Printf("  mode_interval:  %s", refresherConfig.ModeInterval)
	log.Printf("  answer_window:  %s", dispatchConfig.AnswerWindow)
	log.Printf("  catalog_assets: %d", assets.Len())
	log.Printf("  metrics_addr:   %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	stop()
	scheduler.Stop()
	natsClient.Close()
	rdb.Close()
}

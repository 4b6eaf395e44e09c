package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"svcqueue/internal/clock"
	"svcqueue/internal/config"
	"svcqueue/internal/engine"
	"svcqueue/internal/httpapi"
	"svcqueue/internal/identity"
	"svcqueue/internal/models"
	"svcqueue/internal/notify"
	"svcqueue/internal/realtime"
	"svcqueue/internal/store"
	"svcqueue/internal/store/memstore"
	"svcqueue/internal/store/postgres"
	"svcqueue/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-engine")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st := newStore(cfg)
	defer st.Close()

	notifier := notify.New(notify.NewProvider(cfg.NotifierProvider, cfg.NotifierURL), 4)
	defer notifier.Close()

	var resolver identity.Resolver
	if cfg.IdentityServiceURL != "" {
		resolver = identity.NewHTTPResolver(cfg.IdentityServiceURL)
	} else {
		log.Printf("IDENTITY_SERVICE_URL unset; running with an empty static identity table")
		resolver = identity.NewStatic()
	}

	eng := engine.New(st, clock.Real(), notifier, engine.Config{
		UndoWindow:               cfg.UndoWindow,
		RestructureHorizon:       cfg.RestructureHorizon,
		MaterialWaitDeltaMinutes: cfg.MaterialWaitDeltaMinutes,
	})

	handler := httpapi.NewHandler(eng)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		TenantPerMinute: cfg.TenantRateLimitPerMinute,
	})

	hub := realtime.New()

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(hub))

	authed := httpapi.AuthMiddleware(resolver, mux)
	rated := limiter.Middleware(authed)
	logged := httpapi.LoggingMiddleware(rated)
	traced := otelhttp.NewHandler(logged, "queue-engine")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      traced,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-engine listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go runOutboxPoller(st, hub, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func newStore(cfg config.Config) store.Store {
	if cfg.StoreURI == "" {
		log.Printf("STORE_URI unset; running against the in-memory store")
		return memstore.New()
	}
	pool, err := pgxpool.New(context.Background(), cfg.StoreURI)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	return postgres.NewStore(pool)
}

// newRealtimeHandler wires a sockjs endpoint where each connected display
// client subscribes to one business/helper lane and receives the same
// outbox-derived events the poller below fans out; it does not replace the
// engine's inline push-notification dispatch, it supplements it.
func newRealtimeHandler(hub *realtime.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &realtime.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		hub.Register(client)
		defer hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := realtime.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				hub.UpdateSubscription(client, realtime.Subscription{})
				continue
			}
			hub.UpdateSubscription(client, realtime.Subscription{
				BusinessID: parsed.BusinessID,
				HelperID:   parsed.HelperID,
			})
		}
	})
}

type outboxMeta struct {
	BusinessID string `json:"businessId"`
	HelperID   string `json:"helperId"`
}

// runOutboxPoller drains committed outbox events into the realtime hub.
// Push notifications are not re-dispatched here — the engine already
// enqueues those inline, post-commit, from the same write path that wrote
// the outbox row; this loop exists only to feed display clients.
func runOutboxPoller(st store.Store, hub *realtime.Hub, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	offset, err := st.LoadOutboxOffset(context.Background())
	if err != nil {
		log.Printf("outbox: load offset error: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var running int32
	for range ticker.C {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		func() {
			defer atomic.StoreInt32(&running, 0)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			events, err := st.ListOutboxEvents(ctx, offset, batchSize)
			if err != nil {
				log.Printf("outbox: list error: %v", err)
				return
			}
			for _, ev := range events {
				offset = store.OutboxOffset{LastEventTime: ev.CreatedAt, LastEventID: ev.ID}
				broadcastOutboxEvent(hub, ev)
			}
			if len(events) > 0 {
				if err := st.AdvanceOutboxOffset(ctx, offset); err != nil {
					log.Printf("outbox: advance offset error: %v", err)
				}
			}
		}()
	}
}

func broadcastOutboxEvent(hub *realtime.Hub, ev models.OutboxEvent) {
	var meta outboxMeta
	if err := json.Unmarshal(ev.Payload, &meta); err != nil {
		return
	}
	envelope := struct {
		Type      string          `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		CreatedAt time.Time       `json:"createdAt"`
	}{Type: ev.Type, Payload: ev.Payload, CreatedAt: ev.CreatedAt}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	hub.Broadcast(payload, realtime.Subscription{BusinessID: meta.BusinessID, HelperID: meta.HelperID})
}

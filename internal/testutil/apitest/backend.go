package apitest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"sentinal-call/config"
	"sentinal-call/internal/handler"
	"sentinal-call/internal/outbox"
	"sentinal-call/internal/redis"
	"sentinal-call/internal/repository"
	"sentinal-call/internal/server"
	"sentinal-call/internal/services"
	"sentinal-call/internal/testutil"
	"sentinal-call/internal/websocket"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// BackendOptions tunes NewBackend. Zero values pick test defaults.
type BackendOptions struct {
	CallLimit      int
	IncomingWindow time.Duration
}

// Backend is the full API stack served by httptest: sqlite, miniredis,
// the outbox processor, the websocket hub and its redis bridge.
type Backend struct {
	URL   string
	DB    *gorm.DB
	Redis *miniredis.Miniredis
	Auth  *services.AuthService
	Calls *services.CallService
	Hub   *websocket.Hub
}

func NewBackend(t *testing.T, opts BackendOptions) *Backend {
	t.Helper()
	if opts.CallLimit == 0 {
		opts.CallLimit = 1000
	}

	db := testutil.DB(t)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())

	calls := services.NewCallService(
		repository.NewCallRepository(db),
		repository.NewSignalRepository(db),
		redis.NewPresenceStore(client, time.Hour),
		redis.NewCallStateStore(client),
		nil,
		services.CallServiceConfig{IncomingWindow: opts.IncomingWindow},
	)
	auth := services.NewAuthService("test-secret", time.Hour)
	limiter := redis.NewRateLimiter(client, redis.RateLimitConfig{CallLimit: opts.CallLimit, CallWindow: time.Minute})

	hub := websocket.NewHub()
	go hub.Run(ctx)
	bridge := websocket.NewRedisBridge(redis.NewSubscriber(client), hub)
	go func() { _ = bridge.Run(ctx) }()

	runner := outbox.NewRunner(outbox.NewProcessor(
		repository.NewEventRepository(db), redis.NewPublisher(client), nil, 100, 10*time.Millisecond, 5,
	))
	runner.Start(ctx)

	srv := server.New(&config.Config{AppMode: server.TestMode, AppPort: "0"}, nil)
	srv.SetupRoutes(&server.Handlers{
		Call:      handler.NewCallHandler(calls),
		WebSocket: websocket.NewHandler(auth, hub, websocket.NewChannelAuthorizer(calls.Access()), nil),
	}, auth, limiter, map[string]server.HealthCheck{
		"redis": func(ctx context.Context) error { return redis.Ping(ctx, client) },
	})
	ts := httptest.NewServer(srv.Engine())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		runner.Stop()
	})

	waitForPattern(t, mr)

	return &Backend{URL: ts.URL, DB: db, Redis: mr, Auth: auth, Calls: calls, Hub: hub}
}

// Token issues a bearer token for userID.
func (b *Backend) Token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, _, err := b.Auth.IssueAccessToken(userID)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// waitForPattern blocks until the bridge's pattern subscription is live so
// no published event is lost at startup.
func waitForPattern(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumPat() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("redis bridge never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

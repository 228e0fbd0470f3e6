package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codeclash/codeclash-server/internal/api"
	"github.com/codeclash/codeclash-server/internal/battle"
	"github.com/codeclash/codeclash-server/internal/config"
	"github.com/codeclash/codeclash-server/internal/domain"
	"github.com/codeclash/codeclash-server/internal/judge"
	"github.com/codeclash/codeclash-server/internal/matchmaking"
	"github.com/codeclash/codeclash-server/internal/repository"
	repoPostgres "github.com/codeclash/codeclash-server/internal/repository/postgres"
	"github.com/codeclash/codeclash-server/internal/service"
	"github.com/codeclash/codeclash-server/internal/websocket"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a connection
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_codeclash"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&domain.User{},
		&domain.UserSession{},
		&domain.Battle{},
		&domain.Participant{},
	)
	if err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"battle_participants",
		"battles",
		"user_sessions",
		"users",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:               "0", // Random port
		Environment:        "test",
		AllowedOrigins:     "*",
		JWTSecret:          "test-jwt-secret-key-for-testing-only",
		JWTExpirationHours: 1,
		CodeforcesBaseURL:  "http://localhost:0", // overridden per test with httptest
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Repos    *repository.Repositories
	Services *service.Services
	Engine   *battle.Engine
	Queue    *matchmaking.Queue
	Hub      *websocket.Hub
	Clock    *clockwork.FakeClock
	Config   *config.Config
}

// TestServerOptions tweaks the test server wiring.
type TestServerOptions struct {
	// Judge replaces the default Codeforces client, letting tests control
	// problem selection and solve checks.
	Judge judge.Service
}

// NewTestServer creates a complete test server with all dependencies. Battle
// and matchmaking timers run on a fake clock so tests advance time explicitly.
func NewTestServer(t *testing.T, opts TestServerOptions) *TestServer {
	t.Helper()

	testDB := NewTestDB(t)
	cfg := TestConfig()
	clock := clockwork.NewFakeClock()

	repos := repoPostgres.NewRepositories(testDB.DB)
	services := service.NewServices(repos, cfg)

	judgeSvc := opts.Judge
	if judgeSvc == nil {
		judgeSvc = judge.NewCodeforcesClient(cfg.CodeforcesBaseURL)
	}

	hub := websocket.NewHub()
	engine := battle.NewEngine(battle.DefaultConfig(), repos.Battle, judgeSvc, services.Score, hub, clock)
	queue := matchmaking.NewQueue(matchmaking.DefaultConfig(), engine, hub, clock)
	hub.SetEngine(engine)
	hub.SetQueue(queue)
	hub.SetUsers(repos.User)

	go hub.Run()
	queue.Start()

	router := api.NewRouter(services, engine, hub, repos, cfg)
	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       testDB,
		Repos:    repos,
		Services: services,
		Engine:   engine,
		Queue:    queue,
		Hub:      hub,
		Clock:    clock,
		Config:   cfg,
	}

	t.Cleanup(func() {
		server.Close()
		queue.Stop()
		hub.Stop()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// WebSocketURL returns the WebSocket URL with token
func (ts *TestServer) WebSocketURL(token string) string {
	wsURL := "ws" + ts.Server.URL[4:] // Replace "http" with "ws"
	return fmt.Sprintf("%s/ws?token=%s", wsURL, token)
}

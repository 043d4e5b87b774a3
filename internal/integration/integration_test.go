package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
	pgbank "polyquiz-service/internal/infra/postgres"
	pgmigrations "polyquiz-service/internal/infra/postgres/migrations"
	infraredis "polyquiz-service/internal/infra/redis"
)

func TestFullGameEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestionBank(t, ctx, pgURL, "geography", sampleQuestions())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	bank := pgbank.NewQuestionBank(pool)
	source := infraredis.NewQuestionCache(redisClient, bank, 5*time.Minute)
	store := infraredis.NewStore(redisClient)
	service := game.NewService(store, source)

	lobby, err := service.CreateLobby(ctx, game.CreateParams{
		Topic:        "geography",
		Questions:    2,
		Difficulty:   "medium",
		TimerSeconds: 60,
		HostName:     "Host",
	})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if len(lobby.Quiz) != 2 {
		t.Fatalf("expected 2 questions from the bank, got %d", len(lobby.Quiz))
	}

	if _, err := service.Join(ctx, lobby.ID, "Alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := service.Join(ctx, lobby.ID, "Bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if err := service.Start(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Question 0: Alice right, Bob wrong.
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Alice", 0, "Paris"); err != nil {
		t.Fatalf("alice q0: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Bob", 0, "London"); err != nil {
		t.Fatalf("bob q0: %v", err)
	}
	waitForPhase(t, ctx, service, lobby.ID, domain.PhaseReveal)
	if err := service.Advance(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("advance q0: %v", err)
	}

	// Question 1: both right.
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Alice", 1, "Mars"); err != nil {
		t.Fatalf("alice q1: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Bob", 1, "Mars"); err != nil {
		t.Fatalf("bob q1: %v", err)
	}
	waitForPhase(t, ctx, service, lobby.ID, domain.PhaseReveal)
	if err := service.Advance(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("advance q1: %v", err)
	}

	results, err := service.Results(ctx, lobby.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results.Standings) != 2 {
		t.Fatalf("expected 2 standings, got %+v", results.Standings)
	}
	top := results.Standings[0]
	if top.Name != "Alice" || top.Score != 20 || top.CorrectCount != 2 || top.MaxStreak != 2 {
		t.Fatalf("unexpected winner %+v", top)
	}
	second := results.Standings[1]
	if second.Name != "Bob" || second.Score != 10 || second.MaxNegativeStreak != 1 {
		t.Fatalf("unexpected runner-up %+v", second)
	}

	// A second lobby on the same topic is served from the Redis cache.
	if _, err := service.CreateLobby(ctx, game.CreateParams{
		Topic: "geography", Questions: 2, Difficulty: "medium", TimerSeconds: 60, HostName: "Host",
	}); err != nil {
		t.Fatalf("second lobby: %v", err)
	}

	if err := service.Close(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := service.Lobby(ctx, lobby.ID); err != domain.ErrLobbyNotFound {
		t.Fatalf("lobby survived close: %v", err)
	}
}

func waitForPhase(t *testing.T, ctx context.Context, service *game.Service, lobbyID string, phase domain.Phase) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lobby, err := service.Lobby(ctx, lobbyID)
		if err != nil {
			t.Fatalf("read lobby: %v", err)
		}
		if lobby.GameState.Phase == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("lobby never reached phase %s", phase)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trivia", "POSTGRES_PASSWORD": "triviapass", "POSTGRES_DB": "triviadb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://trivia:triviapass@%s:%s/triviadb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestionBank(t *testing.T, ctx context.Context, dsn, topic string, questions []domain.Question) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO question_banks (topic, difficulty, questions) VALUES (?, 'medium', ?::jsonb)
		 ON CONFLICT (topic, difficulty) DO UPDATE SET questions=EXCLUDED.questions`,
		topic, string(data)); err != nil {
		t.Fatalf("insert question bank: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			Text:          "What is the capital of France?",
			Options:       []string{"Paris", "London", "Berlin", "Madrid"},
			CorrectOption: "Paris",
			Explanation:   "Paris is the French capital.",
		},
		{
			Text:          "Which planet is known as the Red Planet?",
			Options:       []string{"Venus", "Mars", "Jupiter", "Saturn"},
			CorrectOption: "Mars",
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

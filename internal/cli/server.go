package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"polyquiz-service/internal/config"
	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
	"polyquiz-service/internal/infra/generator"
	"polyquiz-service/internal/infra/memory"
	pgbank "polyquiz-service/internal/infra/postgres"
	redisinfra "polyquiz-service/internal/infra/redis"
	transport "polyquiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	// Question sources, most preferred last: static samples, then the curated
	// Postgres bank, then the external generator in front of whichever of
	// those is available as its fallback.
	var fallback game.QuestionSource = memory.NewStaticQuestionSource(sampleQuestionSets())
	if pool != nil {
		fallback = pgbank.NewQuestionBank(pool)
	}
	var source game.QuestionSource = fallback
	if cfg.Generator.URL != "" {
		timeout := config.TTLDuration(cfg.Generator.Timeout, 20*time.Second)
		source = generator.NewClient(cfg.Generator.URL, timeout, fallback)
	}
	if redisClient != nil {
		cacheTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)
		source = redisinfra.NewQuestionCache(redisClient, source, cacheTTL)
	}

	var store game.Store = memory.NewStore()
	if redisClient != nil {
		store = redisinfra.NewStore(redisClient)
	}

	opts := []game.Option{game.WithRules(rulesFromConfig(cfg))}
	if cfg.Game.DefaultTimerSeconds > 0 {
		opts = append(opts, game.WithDefaultTimer(cfg.Game.DefaultTimerSeconds))
	}
	service := game.NewService(store, source, opts...)

	wsHandler := transport.NewWSHandler(service)
	lobbyHandler := transport.NewLobbyHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("POST /lobbies", lobbyHandler.CreateLobby)
	mux.HandleFunc("GET /lobbies/{lobbyID}/results", lobbyHandler.Results)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting trivia service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func rulesFromConfig(cfg config.Config) game.Rules {
	rules := game.DefaultRules()
	if cfg.Game.BasePoints > 0 {
		rules.BasePoints = cfg.Game.BasePoints
	}
	if cfg.Game.StreakBonus > 0 {
		rules.StreakBonus = cfg.Game.StreakBonus
	}
	if cfg.Game.StreakThreshold > 0 {
		rules.StreakThreshold = cfg.Game.StreakThreshold
	}
	return rules
}

// sampleQuestionSets keeps the server usable with no generator and no
// database configured.
func sampleQuestionSets() map[string][]domain.Question {
	return map[string][]domain.Question{
		"general": {
			{
				Text:          "Which planet is known as the Red Planet?",
				Options:       []string{"Venus", "Mars", "Jupiter", "Mercury"},
				CorrectOption: "Mars",
				Explanation:   "Iron oxide on its surface gives Mars its reddish color.",
			},
			{
				Text:          "What is the capital of France?",
				Options:       []string{"Lyon", "Marseille", "Paris", "Toulouse"},
				CorrectOption: "Paris",
				Explanation:   "Paris has been the French capital since the 10th century.",
			},
			{
				Text:          "How many continents are there on Earth?",
				Options:       []string{"5", "6", "7", "8"},
				CorrectOption: "7",
				Explanation:   "Africa, Antarctica, Asia, Europe, North America, Oceania and South America.",
			},
		},
	}
}

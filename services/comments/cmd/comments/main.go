package main

import (
	"context"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/tutorhub/internal/platform/auth"
	"github.com/example/tutorhub/internal/platform/config"
	"github.com/example/tutorhub/internal/platform/db"
	"github.com/example/tutorhub/internal/platform/events"
	"github.com/example/tutorhub/internal/platform/httpserver"
	"github.com/example/tutorhub/internal/platform/logging"
	"github.com/example/tutorhub/internal/platform/natsconn"
	"github.com/example/tutorhub/internal/platform/run"
	"github.com/example/tutorhub/services/comments/internal/cache"
	"github.com/example/tutorhub/services/comments/internal/catalog"
	"github.com/example/tutorhub/services/comments/internal/handlers"
	"github.com/example/tutorhub/services/comments/internal/moderation"
	"github.com/example/tutorhub/services/comments/internal/service"
	"github.com/example/tutorhub/services/comments/internal/store"
	"github.com/example/tutorhub/services/comments/internal/thread"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	pool := initPool(cfg, log)
	if pool != nil {
		defer pool.Close()
	}

	var (
		comments store.CommentStore
		resolver catalog.Resolver
		cycles   moderation.CycleStore
	)
	if pool != nil {
		comments = store.NewPostgresCommentStore(pool)
		resolver = catalog.NewPostgresResolver(pool)
		cycles = moderation.NewPostgresCycleStore(pool)
		log.Info("comment backends: postgres")
	} else {
		comments = store.NewInMemoryCommentStore()
		resolver = devResolver()
		cycles = moderation.NewInMemoryCycleStore()
		log.Warn("comment backends: in-memory (development only)")
	}

	threads, closeRedis := initThreadCache(log)
	if closeRedis != nil {
		defer closeRedis()
	}

	publisher, closeNATS := initPublisher(log)
	if closeNATS != nil {
		defer closeNATS()
	}

	workflow := moderation.NewWorkflow(cycles, comments)
	svc := service.New(comments, resolver, workflow, thread.NewBuilder(log), threads, publisher, log)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	verifier := auth.JWTVerifier{Secret: []byte(jwtSecret)}

	ch := handlers.NewCommentHandler(svc, log)
	mh := handlers.NewModerationHandler(svc, log)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: readyFunc(pool)})

	// Public read
	r.Get("/v1/threads/{kind}/{target_id}", ch.GetThread)

	// Authenticated writes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Post("/v1/threads/{kind}/{target_id}/comments", ch.CreateComment)
		r.Put("/v1/comments/{comment_id}", ch.EditComment)
		r.Delete("/v1/comments/{comment_id}", ch.DeleteComment)
		r.Post("/v1/comments/{comment_id}/vote", ch.Vote)
		r.Post("/v1/comments/{comment_id}/report", mh.Report)
	})

	// Moderator-only
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Use(auth.RequireModerator)
		r.Post("/v1/comments/{comment_id}/claim", mh.Claim)
		r.Post("/v1/comments/{comment_id}/resolve", mh.Resolve)
		r.Get("/v1/moderation/reports", mh.Queue)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	// gRPC server (health + reflection; typed stubs are generated out-of-repo)
	grpcAddr := strings.TrimSpace(os.Getenv("GRPC_ADDR"))
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	go func() {
		log.Info("grpc server starting", zap.String("addr", grpcAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			healthSrv.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(10 * time.Second):
				grpcSrv.Stop()
			}
			runner.Graceful(srv.Shutdown)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initPool opens the shared Postgres pool. Production requires it; development
// falls back to nil, which selects the in-memory backends.
func initPool(cfg config.AppConfig, log *zap.Logger) *pgxpool.Pool {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		if cfg.IsProduction() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set")
		return nil
	}

	pool, err := db.Open(context.Background())
	if err != nil {
		if cfg.IsProduction() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable", zap.Error(err))
		return nil
	}
	return pool
}

// initThreadCache wires the optional Redis thread cache.
func initThreadCache(log *zap.Logger) (cache.ThreadCache, func()) {
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if redisURL == "" {
		log.Info("REDIS_URL not set, thread cache disabled")
		return cache.Noop{}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, thread cache disabled", zap.Error(err))
		return cache.Noop{}, nil
	}
	rdb := redis.NewClient(opts)
	log.Info("thread cache: redis")
	return cache.NewRedisCache(rdb, log), func() { _ = rdb.Close() }
}

// initPublisher connects NATS JetStream for lifecycle events. Unavailability
// is non-fatal: the nil publisher is a no-op.
func initPublisher(log *zap.Logger) (*events.Publisher, func()) {
	nc, err := natsconn.Connect(natsconn.Options{})
	if err != nil {
		log.Warn("nats unavailable, events disabled", zap.Error(err))
		return events.New(nil, log), nil
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		log.Warn("jetstream unavailable, events disabled", zap.Error(err))
		nc.Close()
		return events.New(nil, log), nil
	}
	return events.New(js, log), nc.Close
}

// devResolver accepts the targets seeded by local compose fixtures.
func devResolver() catalog.Resolver {
	r := catalog.NewInMemoryResolver()
	for _, t := range []store.Target{
		{Kind: store.TargetTutor, ID: "t1"},
		{Kind: store.TargetTutor, ID: "t2"},
		{Kind: store.TargetCourse, ID: "k1"},
	} {
		r.Add(t)
	}
	return r
}

func readyFunc(pool *pgxpool.Pool) func() error {
	if pool == nil {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}

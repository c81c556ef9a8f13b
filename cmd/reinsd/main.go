// Command reinsd runs the autonomy core daemon: the tiered gate, the
// per-user emergency brake, and the approval queue with its expiry
// sweeper. The agents' business logic and the HTTP surface live in their
// own services; this process owns gating state.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/adithya0597/reins/pkg/approval"
	"github.com/adithya0597/reins/pkg/brake"
	"github.com/adithya0597/reins/pkg/config"
	"github.com/adithya0597/reins/pkg/dispatch"
	"github.com/adithya0597/reins/pkg/events"
	"github.com/adithya0597/reins/pkg/gate"
	"github.com/adithya0597/reins/pkg/observability"
	"github.com/adithya0597/reins/pkg/registry"
	"github.com/adithya0597/reins/pkg/tiers"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reinsd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	demo := flag.Bool("demo", false, "run a scripted gating scenario and exit")
	flag.Parse()

	cfg := config.Load()
	initLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "reinsd",
		ServiceVersion: "1.0.0",
		Environment:    getenvDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	reg, err := registry.LoadFile(cfg.ActionRegistryPath)
	if err != nil {
		return err
	}
	slog.Info("action registry loaded", "path", cfg.ActionRegistryPath, "actions", len(reg.Names()))

	store, cleanup, err := openApprovalStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		flagStore brake.FlagStore
		publisher events.Publisher = events.NoopPublisher{}
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		flagStore = brake.NewRedisFlagStore(rdb)
		publisher = events.NewRedisPublisher(rdb)
	} else {
		slog.Warn("REDIS_ADDR unset; using in-memory brake store (single node only)")
		flagStore = brake.NewMemoryFlagStore()
	}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = np
	}
	defer func() { _ = publisher.Close() }()

	// The local pool stands in for the external worker fleet in
	// single-node deployments; multi-node fleets plug in their own
	// Dispatcher and WorkerPool.
	pool := dispatch.NewLocalPool(cfg.WorkerPoolSize, logOnlyTask)
	defer pool.Close()

	queue := approval.NewQueue(store, pool,
		approval.WithTTL(cfg.ApprovalTTL),
		approval.WithMeter(obs.Meter()),
	)
	controller := brake.NewController(flagStore, pool, queue, publisher,
		brake.WithGracePeriod(cfg.BrakeGracePeriod),
		brake.WithMeter(obs.Meter()),
	)
	defer controller.Close()
	g := gate.New(controller, envTierResolver{}, queue, gate.WithMeter(obs.Meter()))

	if *demo {
		return runDemo(ctx, g, reg, controller, queue)
	}

	slog.Info("reinsd started",
		"grace_period", cfg.BrakeGracePeriod,
		"approval_ttl", cfg.ApprovalTTL,
		"sweep_interval", cfg.SweepInterval,
	)

	go queue.RunSweeper(ctx, cfg.SweepInterval)

	<-ctx.Done()
	slog.Info("reinsd shutting down")
	return nil
}

// runDemo walks one supervised apply through the gate, the approval queue,
// and a brake round trip, logging each step. Useful as a smoke test of a
// freshly wired deployment.
func runDemo(ctx context.Context, g *gate.Gate, reg *registry.Registry, controller *brake.Controller, queue *approval.Queue) error {
	const user = "demo-user"

	req, err := reg.Request(user, "apply",
		map[string]any{"job_id": "j-1001"},
		"matches 9 of 10 required skills", 0.9)
	if err != nil {
		return err
	}

	decision, err := g.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	slog.Info("gate decision", "kind", decision.Kind.String(), "item_id", decision.ItemID,
		"reason", decision.Reason)

	if decision.Kind == gate.Queued {
		item, err := queue.Approve(ctx, decision.ItemID, user)
		if err != nil {
			return err
		}
		slog.Info("approved", "item_id", item.ID, "status", string(item.Status))
	}

	if err := controller.Activate(ctx, user); err != nil {
		return err
	}
	if _, err := g.Evaluate(ctx, req); err != nil {
		slog.Info("evaluation while braked", "error", err.Error())
	}
	if err := controller.VerifyCompletion(ctx, user); err != nil {
		return err
	}
	rec, err := controller.GetState(ctx, user)
	if err != nil {
		return err
	}
	slog.Info("brake state after verification", "state", string(rec.State),
		"paused_tasks", rec.PausedTasksCount)
	if err := controller.Resume(ctx, user); err != nil {
		return err
	}
	slog.Info("demo complete")
	return nil
}

func openApprovalStore(ctx context.Context, cfg *config.Config) (approval.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		store := approval.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	}
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite at %s: %w", cfg.SQLitePath, err)
	}
	store, err := approval.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

// logOnlyTask is the placeholder task body: approved actions are logged
// until an agent executor is attached to the pool.
func logOnlyTask(ctx context.Context, actionName, userID string, payload map[string]any) error {
	slog.InfoContext(ctx, "dispatched action", "action", actionName, "user_id", userID)
	return nil
}

// envTierResolver reads tiers from USER_TIER_<id> env vars; real
// deployments plug in the user-preference service client here.
type envTierResolver struct{}

func (envTierResolver) ResolveTier(ctx context.Context, userID string) (tiers.Tier, error) {
	v := os.Getenv(tierEnvKey(userID))
	if v == "" {
		return tiers.L0, nil
	}
	return tiers.Parse(v)
}

// tierEnvKey maps a user id to a settable env-var name: uppercased, with
// anything outside [A-Z0-9] replaced by underscores.
func tierEnvKey(userID string) string {
	var b strings.Builder
	b.WriteString("USER_TIER_")
	for _, r := range strings.ToUpper(userID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

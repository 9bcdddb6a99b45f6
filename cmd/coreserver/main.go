// Command coreserver wires the Agent Orchestration & Cross-Agent
// Context Core's components into one running process: the backing
// Redis/Postgres stores, the Access Controller's policy evaluator, the
// Context/Evidence/Audit stores, the Agent Registry, the Task Scheduler,
// and the thin HTTP adapter. Grounded on the teacher's cmd/ entrypoints
// (flag-parsed config path, zap logger construction, component
// construction in dependency order, signal-driven graceful shutdown).
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Samueladewole/velocityai-sub003/pkg/access"
	accesspolicy "github.com/Samueladewole/velocityai-sub003/pkg/access/policy"
	"github.com/Samueladewole/velocityai-sub003/pkg/agent"
	"github.com/Samueladewole/velocityai-sub003/pkg/audit"
	"github.com/Samueladewole/velocityai-sub003/pkg/contextapi/config"
	"github.com/Samueladewole/velocityai-sub003/pkg/contextapi/server"
	"github.com/Samueladewole/velocityai-sub003/pkg/contextstore"
	"github.com/Samueladewole/velocityai-sub003/pkg/datashare"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
	"github.com/Samueladewole/velocityai-sub003/pkg/evidence"
	"github.com/Samueladewole/velocityai-sub003/pkg/inference"
	"github.com/Samueladewole/velocityai-sub003/pkg/integrity"
	"github.com/Samueladewole/velocityai-sub003/pkg/scheduler"
	"github.com/Samueladewole/velocityai-sub003/pkg/scoring"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/rediskv"
	"github.com/Samueladewole/velocityai-sub003/pkg/storage/sqlstore"
)

// inferenceExecutor routes every task to the configured InferenceProvider,
// the simplest concrete scheduler.Executor that exercises the full
// dispatch/retry/timeout path end to end without any agent-specific
// business logic (that logic is out of this core's scope per §1).
type inferenceExecutor struct {
	provider inference.Provider
	logger   *zap.Logger
}

func (e *inferenceExecutor) Execute(ctx context.Context, task *domain.Task) (domain.TaskResult, error) {
	prompt, _ := task.Payload["prompt"].(string)
	if prompt == "" {
		return domain.TaskResult{TaskID: task.TaskID, Success: true, Output: map[string]interface{}{}}, nil
	}
	text, err := e.provider.Complete(ctx, prompt, inference.Options{})
	if err != nil {
		return domain.TaskResult{}, err
	}
	return domain.TaskResult{
		TaskID: task.TaskID, Success: true,
		Output: map[string]interface{}{"text": text},
	}, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the core server config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
	kv := rediskv.New(redisClient)

	sqlDB, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		logger.Fatal("failed to open framework control database", zap.Error(err))
	}
	controlRepo := sqlstore.NewControlRepository(sqlDB)

	keyRing := parseKeyRing(cfg.EncryptionKeyRing)
	currentKeyID := ""
	if _, ok := keyRing["current"]; ok {
		currentKeyID = "current"
	}
	integrityEngine, err := integrity.New([]byte(cfg.IntegrityKey), keyRing, currentKeyID)
	if err != nil {
		logger.Fatal("failed to construct integrity engine", zap.Error(err))
	}

	auditLog := audit.New(integrityEngine, logger)
	if slackToken := os.Getenv("SLACK_BOT_TOKEN"); slackToken != "" {
		auditLog.RegisterMonitor(audit.NewSlackMonitor(slackToken, os.Getenv("SLACK_ALERT_CHANNEL"), 80, logger))
	}

	policyEvaluator := accesspolicy.NewEvaluator(accesspolicy.Config{}, logger)
	// §4.3 gates confidential and secret reads with their own separate
	// enumerated agent-type lists (not a shared one); "cipher-agent" sits
	// in both, matching the ground-truth policy's one agent type cleared
	// for both tiers.
	allowedConfidentialAgents := []string{"compass-agent", "prism-agent", "cipher-agent"}
	allowedSecretAgents := []string{"crypto-agent", "cipher-agent"}
	approvals := &dataSharePlaceholder{}
	accessCtrl := access.New(policyEvaluator, approvals, auditLog, logger, allowedConfidentialAgents, allowedSecretAgents)

	contextStore := contextstore.New(kv, accessCtrl, integrityEngine, auditLog, logger, contextstore.Config{
		CacheMaxEntries: cfg.Core.CacheMaxEntries,
	})

	shareProtocol := datashare.New(contextStore, auditLog, logger)
	// The Access Controller's approval lookup and the Data-Share
	// Protocol's approval table are the same concept (§4.8/§4.3); point
	// the holder the controller (and so the Context Store) already uses
	// at the real protocol now that it exists.
	approvals.protocol = shareProtocol

	evidenceStore := evidence.New(kv, integrityEngine, logger)
	scoringEngine := scoring.New(evidenceStore)
	if err := controlRepo.HealthCheck(context.Background()); err != nil {
		logger.Warn("framework control database not reachable at startup", zap.Error(err))
	}

	registry := agent.New(logger)

	inferenceProvider := inference.New(os.Getenv("ANTHROPIC_API_KEY"))
	executor := &inferenceExecutor{provider: inferenceProvider, logger: logger}

	sched := scheduler.New(registry, executor, auditLog, logger, scheduler.Config{
		GlobalConcurrencyCap: cfg.Core.GlobalConcurrencyCap,
		DefaultTaskTimeout:   cfg.DefaultTaskTimeout(),
		RetryMaxAttempts:     cfg.Core.RetryMaxAttempts,
		RetryBaseDelay:       cfg.RetryBaseDelay(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + portString(cfg.Server.Port),
		Handler: server.New(sched, evidenceStore, scoringEngine, controlRepo, logger),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	sched.Stop()
	cancel()
}

// dataSharePlaceholder satisfies access.ApprovalLookup before the real
// datashare.Protocol is constructed, since the two packages depend on
// each other's consumer interfaces (access needs an ApprovalLookup,
// datashare needs a contextstore.Store to materialize approved shares).
// It reports no approvals until protocol is set, then delegates to it.
type dataSharePlaceholder struct {
	protocol *datashare.Protocol
}

func (d *dataSharePlaceholder) HasApproval(ctx context.Context, entryID, agentType string) (bool, error) {
	if d.protocol == nil {
		return false, nil
	}
	return d.protocol.HasApproval(ctx, entryID, agentType)
}

func portString(port int) string {
	if port == 0 {
		return "8091"
	}
	return intToString(port)
}

func intToString(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func postgresDSN(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return "host=" + cfg.Database.Host +
		" port=" + intToString(cfg.Database.Port) +
		" dbname=" + cfg.Database.Name +
		" user=" + cfg.Database.User +
		" password=" + cfg.Database.Password +
		" sslmode=" + sslMode
}

func parseKeyRing(raw string) integrity.KeyRing {
	// ENCRYPTION_KEY_RING is a single current 32-byte key supplied
	// out-of-band and used as raw bytes (it is not base64-decoded); rotation (additional historical keys)
	// is an operational concern handled by redeploying with a larger
	// ring, not parsed from this one env var.
	ring := integrity.KeyRing{}
	if raw == "" {
		return ring
	}
	ring["current"] = []byte(raw)
	return ring
}

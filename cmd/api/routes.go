package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"auralis/internal/auth"
	"auralis/internal/calllog"
	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/internal/httpapi"
	"auralis/internal/poller"
	"auralis/internal/reporting"
	"auralis/internal/telephony"
	"auralis/internal/voiceagent"
	"auralis/internal/webhook"
	"auralis/pkg/utils"
)

// deps holds the process-wide clients. Everything optional may be nil.
type deps struct {
	backend calls.Backend
	logRepo calllog.Repository
	db      *sql.DB
	fs      *calls.FirestoreBackend
	rdb     *redis.Client
}

func (d *deps) Close() {
	if d.db != nil {
		_ = d.db.Close()
	}
	if d.fs != nil {
		_ = d.fs.Close()
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
}

// openDeps connects the configured store and Redis. A missing store is not
// fatal: records degrade to no-ops and the API still places calls.
func openDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (*deps, error) {
	d := &deps{}

	switch cfg.Store.Driver {
	case config.StoreFirestore:
		fs, err := calls.OpenFirestore(ctx, calls.FirestoreOptions{
			ProjectID:       cfg.Store.FirestoreProjectID,
			CredentialsFile: cfg.Store.CredentialsFile,
			CredentialsJSON: cfg.Store.CredentialsJSON,
		})
		if err != nil {
			log.Error("firestore unavailable, call records disabled", "err", err)
			break
		}
		d.fs = fs
		d.backend = fs
		d.logRepo = calllog.NewFirestoreRepo(fs.Client())

	case config.StorePostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.db = db
		pg := calls.NewPostgresBackend(db)
		if err := pg.Migrate(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("postgres migrate calls: %w", err)
		}
		logs := calllog.NewPostgresRepo(db)
		if err := logs.Migrate(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("postgres migrate call logs: %w", err)
		}
		d.backend = pg
		d.logRepo = logs

	case config.StoreMemory:
		d.backend = calls.NewMemoryBackend()
		d.logRepo = calllog.NewMemoryRepo()

	default:
		log.Warn("no call store configured, records will not be persisted")
	}

	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.rdb = rdb
	}
	return d, nil
}

func buildRouter(cfg config.Config, d *deps, log *slog.Logger) (*gin.Engine, error) {
	records := calls.NewRecords(d.backend, log)
	logs := calllog.NewService(d.logRepo, log)

	svcDeps := calls.ServiceDeps{
		Records: records,
		Events:  logs,
		Outbound: calls.OutboundSettings{
			AgentID:       cfg.ElevenLabs.AgentID,
			PhoneNumberID: cfg.ElevenLabs.PhoneNumberID,
			FromNumber:    cfg.Twilio.Number,
			Missing:       cfg.ElevenLabs.MissingForOutbound(),
		},
		HistoryMissing: cfg.Twilio.MissingForAPI(),
		Log:            log,
	}

	// Interfaces are only assigned non-nil clients; a typed nil would pass
	// the nil checks downstream.
	agents := voiceagent.NewClient(cfg.ElevenLabs, voiceagent.Options{}, log)
	if agents != nil {
		svcDeps.Dialer = agents
	}
	twilio := telephony.NewClient(cfg.Twilio)
	telephonyProxy := telephony.ProxyHandler{Missing: cfg.Twilio.MissingForAPI()}
	if twilio != nil {
		svcDeps.History = twilio
		telephonyProxy.History = twilio
	}

	var dedupe webhook.Deduper
	if d.rdb != nil {
		dedupe = webhook.NewRedisDeduper(d.rdb, 0)
		if n := cfg.Limits.MaxConcurrentDials; n > 0 {
			svcDeps.Limiter = calls.NewRedisDialLimiter(d.rdb, n, log)
		}
	}

	var authManager *auth.Manager
	if cfg.Auth.JWTSecret != "" {
		m, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		authManager = m
	} else {
		log.Warn("AUTH_JWT_SECRET unset, dashboard routes are unauthenticated")
	}

	svc := calls.NewService(svcDeps)

	hooks := webhook.Handler{
		Ingestor:         webhook.NewIngestor(records, logs, dedupe, log),
		VoiceAgentSecret: cfg.ElevenLabs.WebhookSecret,
	}
	if cfg.Twilio.ValidateSignature {
		hooks.TwilioSignature = telephony.NewSignatureValidator(cfg.Twilio.AuthToken, cfg.Twilio.WebhookBaseURL)
	}

	return httpapi.NewRouter(httpapi.RouterDeps{
		Handlers: httpapi.Handlers{
			Calls:   svc,
			Logs:    logs,
			Reports: reporting.NewService(records),
			Auth:    authManager,
			Poll: poller.Config{
				Interval:    cfg.Poll.Interval,
				MaxDuration: cfg.Poll.MaxDuration,
			},
		},
		Webhooks:  hooks,
		Telephony: telephonyProxy,
		Agents:    voiceagent.ProxyHandler{Client: agents},
		CallsRate: cfg.Limits.CallsRate,
		Log:       log,
	})
}

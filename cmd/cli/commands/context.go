package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/internal/config"
	"github.com/jakechorley/community-connect/pkg/clients/gmailclient"
	"github.com/jakechorley/community-connect/pkg/clients/sesclient"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/db"
	"github.com/jakechorley/community-connect/pkg/mongostore"
	"github.com/jakechorley/community-connect/pkg/postgres"
	"github.com/jakechorley/community-connect/pkg/redisledger"
	"github.com/jakechorley/community-connect/pkg/utils"
)

// AppContext holds the application dependencies shared across all commands.
// Connections are opened on first use so commands only pay for what they need.
type AppContext struct {
	Env    string
	Cfg    *config.Config
	Logger *zap.Logger
	Ctx    context.Context

	database db.Database
	mongo    *mongostore.DB
	postgres *postgres.DB
	ledger   notify.Ledger
	redis    *redisledger.Ledger
	sender   notify.EmailSender
}

// Database opens the configured primary store
func (a *AppContext) Database() (db.Database, error) {
	if a.database != nil {
		return a.database, nil
	}

	switch a.Cfg.Database.Backend {
	case "postgres":
		a.Logger.Info("Connecting to postgres")
		pg, err := postgres.NewDB(a.Ctx, a.Cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.postgres = pg
		a.database = pg
	default:
		a.Logger.Info("Connecting to mongo", zap.String("database", a.Cfg.Database.MongoDatabase))
		mdb, err := mongostore.NewDB(a.Ctx, a.Cfg.Database.MongoURI, a.Cfg.Database.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		a.mongo = mdb
		a.database = mdb
	}

	a.Logger.Debug("Database connected", zap.String("backend", a.Cfg.Database.Backend))
	return a.database, nil
}

// Ledger opens the configured notification ledger
func (a *AppContext) Ledger() (notify.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}

	if a.Cfg.Notifications.LedgerBackend == "redis" {
		a.Logger.Info("Connecting to redis ledger", zap.String("address", a.Cfg.Redis.Address))
		rl := redisledger.New(redisledger.Options{
			Address:   a.Cfg.Redis.Address,
			Password:  a.Cfg.Redis.Password,
			DB:        a.Cfg.Redis.DB,
			Retention: a.Cfg.Notifications.LedgerRetention,
		})
		if err := rl.Ping(a.Ctx); err != nil {
			_ = rl.Close()
			return nil, err
		}
		a.redis = rl
		a.ledger = rl
		return a.ledger, nil
	}

	database, err := a.Database()
	if err != nil {
		return nil, err
	}
	a.ledger = notify.NewStoreLedger(database)
	return a.ledger, nil
}

// Sender creates the configured email transport
func (a *AppContext) Sender() (notify.EmailSender, error) {
	if a.sender != nil {
		return a.sender, nil
	}

	switch a.Cfg.Email.Provider {
	case "ses":
		a.Logger.Info("Initializing SES client", zap.String("region", a.Cfg.Email.SESRegion))
		client, err := sesclient.NewClient(a.Ctx, a.Cfg.Email.SESRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to create ses client: %w", err)
		}
		a.sender = client
	default:
		a.Logger.Info("Initializing gmail client")
		oauthCfg, err := config.LoadOAuthClient(a.Env)
		if err != nil {
			return nil, fmt.Errorf("failed to load OAuth client config: %w", err)
		}
		oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
		if err != nil {
			return nil, err
		}
		tokens, err := utils.DefaultTokenStore()
		if err != nil {
			return nil, err
		}
		token, err := tokens.Token(a.Ctx, oauthConfig, a.Env, a.Logger)
		if err != nil {
			return nil, err
		}
		client, err := gmailclient.NewClient(a.Ctx, oauthCfg, token, a.Cfg.Email.GmailUserID, a.Cfg.Email.SendInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create gmail client: %w", err)
		}
		a.sender = client
	}

	return a.sender, nil
}

// Dispatcher wires the chat notification dispatcher from the store, ledger and transport
func (a *AppContext) Dispatcher() (*notify.Dispatcher, error) {
	database, err := a.Database()
	if err != nil {
		return nil, err
	}
	ledger, err := a.Ledger()
	if err != nil {
		return nil, err
	}
	sender, err := a.Sender()
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(database, ledger, sender, a.Cfg.Email.Sender, a.Logger), nil
}

// Close releases every open connection
func (a *AppContext) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(a.Ctx); err != nil {
			a.Logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}

package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/alert"
	"github.com/jwo-labs/vaultwatch/internal/config"
	"github.com/jwo-labs/vaultwatch/internal/engine"
	"github.com/jwo-labs/vaultwatch/internal/hyperliquid"
	"github.com/jwo-labs/vaultwatch/internal/logger"
	"github.com/jwo-labs/vaultwatch/internal/models"
	"github.com/jwo-labs/vaultwatch/internal/poller"
	"github.com/jwo-labs/vaultwatch/internal/rules"
	"github.com/jwo-labs/vaultwatch/internal/storage"
	"github.com/jwo-labs/vaultwatch/internal/telegram"
	"github.com/jwo-labs/vaultwatch/internal/themes"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log.Info().Str("path", *configPath).Msg("configuration loaded")

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}()

	ruleReg, err := seedRules(store, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize detection rules")
	}

	if err := seedAccounts(store, cfg.Accounts); err != nil {
		log.Fatal().Err(err).Msg("failed to seed tracked accounts")
	}

	themeReg, err := themes.Load(cfg.Themes.FilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load theme table")
	}
	log.Info().Strs("categories", themeReg.Categories()).Msg("theme table loaded")

	hlClient := hyperliquid.NewClient(cfg.Hyperliquid.APIURL, cfg.Hyperliquid.Timeout, cfg.Hyperliquid.MaxRetries)

	var tgClient *telegram.Client
	if cfg.Telegram.Enabled {
		tgClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 3, time.Second)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Telegram client")
		}
		log.Info().Msg("Telegram client initialized")
	} else {
		log.Debug().Msg("Telegram notifications disabled")
	}

	var sink alert.Sink
	if tgClient != nil {
		sink = tgClient
	}
	dispatcher := alert.NewDispatcher(alert.NewFormatter(themeReg), sink, store)

	pipeline := engine.NewPipeline(themeReg, ruleReg, store, time.Now)

	coordinator := poller.New(hlClient, store, pipeline,
		func(g *models.CorrelationGroup) {
			dispatcher.Dispatch(context.Background(), g)
		},
		poller.Options{
			Interval:      cfg.Poller.Interval,
			FetchTimeout:  cfg.Poller.FetchTimeout,
			MaxConcurrent: int64(cfg.Poller.MaxConcurrent),
			RebaselineAge: cfg.Poller.RebaselineAge,
		})
	if tgClient != nil {
		coordinator.SetNotifier(&telegramNotifier{client: tgClient})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tgClient != nil {
		tgClient.ListenForCommands(ctx)
	}

	go pruneLoop(ctx, store, cfg.Storage.HistoryMaxAge)

	coordinator.Start(ctx)

	<-sigChan
	log.Info().Msg("shutdown signal received, cleaning up")
	coordinator.Stop()
	cancel()
}

// seedRules persists the configured detection defaults on first run, then
// hands control of the rule set to the registry. Persisted rules win over
// config on later starts.
func seedRules(store *storage.Storage, cfg *config.Config) (*rules.Registry, error) {
	persisted, err := store.LoadRules()
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		seed := rules.Rules{
			Instrument: rules.Scoped{
				ConfluenceCount: cfg.Detection.InstrumentCount,
				Window:          cfg.Detection.InstrumentWindow,
				Enabled:         true,
			},
			Theme: rules.Scoped{
				ConfluenceCount: cfg.Detection.ThemeCount,
				Window:          cfg.Detection.ThemeWindow,
				Enabled:         true,
			},
			MinTradeValue: decimal.NewFromFloat(cfg.Detection.MinTradeValue),
		}
		if err := seed.Validate(); err != nil {
			return nil, err
		}
		if err := store.SaveRules(seed); err != nil {
			return nil, err
		}
		log.Info().Msg("seeded detection rules from config")
	}
	return rules.NewRegistry(store)
}

func seedAccounts(store *storage.Storage, accounts []config.AccountConfig) error {
	for _, a := range accounts {
		acc := &models.TrackedAccount{
			Address:   a.Address,
			Name:      a.Name,
			Kind:      models.AccountKind(a.Kind),
			Active:    true,
			CreatedAt: time.Now(),
		}
		if acc.Name == "" {
			acc.Name = a.Address
		}
		if acc.Kind == "" {
			acc.Kind = models.KindWallet
		}
		if err := acc.Validate(); err != nil {
			return err
		}
		if err := store.UpsertAccount(acc); err != nil {
			return err
		}
	}
	log.Info().Int("accounts", len(accounts)).Msg("tracked accounts seeded")
	return nil
}

// pruneLoop trims old trade events and alerts on a fixed schedule.
func pruneLoop(ctx context.Context, store *storage.Storage, maxAge time.Duration) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.PruneHistory(time.Now().Add(-maxAge)); err != nil {
				log.Warn().Err(err).Msg("failed to prune history")
			}
		}
	}
}

// telegramNotifier forwards poll health transitions to Telegram.
type telegramNotifier struct {
	client *telegram.Client
}

func (n *telegramNotifier) PollFailed(account string, err error) {
	if sendErr := n.client.SendError(account, err); sendErr != nil {
		log.Warn().Err(sendErr).Msg("failed to send error notification")
	}
}

func (n *telegramNotifier) PollRecovered(account string, failureCount int) {
	if sendErr := n.client.SendRecovery(account, failureCount); sendErr != nil {
		log.Warn().Err(sendErr).Msg("failed to send recovery notification")
	}
}

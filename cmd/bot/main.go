package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/internal/infrastructure/chain"
	"github.com/sarna320/scalp/internal/infrastructure/logger"
	"github.com/sarna320/scalp/internal/infrastructure/storage"
	"github.com/sarna320/scalp/internal/infrastructure/wallet"
	"github.com/sarna320/scalp/internal/usecase"
)

type Config struct {
	Network struct {
		Endpoint          string   `yaml:"endpoint"`
		FallbackEndpoints []string `yaml:"fallback_endpoints"`
	} `yaml:"network"`
	Wallet struct {
		KeystorePath  string `yaml:"keystore_path"`
		DefaultHotkey string `yaml:"default_hotkey"`
	} `yaml:"wallet"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Engine struct {
		SubmitTimeoutMs int `yaml:"submit_timeout_ms"`
	} `yaml:"engine"`
	Logging struct {
		Level    string `yaml:"level"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Subnets []struct {
		NetUID          int    `yaml:"netuid"`
		ActivationPrice string `yaml:"activation_price"`
		LimitPrice      string `yaml:"limit_price"`
		StakeAmount     string `yaml:"stake_amount"`
		ValidatorHotkey string `yaml:"validator_hotkey"`
		ProfitTarget    string `yaml:"profit_target"`
		SellSlippagePct string `yaml:"sell_slippage_pct"`
	} `yaml:"subnets"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// buildRules turns the yaml subnet entries into a validated RuleSet. Any
// malformed price or violated invariant aborts startup.
func buildRules(cfg *Config, defaultHotkey string) (*domain.RuleSet, error) {
	rules := make([]domain.Rule, 0, len(cfg.Subnets))
	for _, s := range cfg.Subnets {
		rule := domain.Rule{NetUID: s.NetUID, ValidatorHotkey: s.ValidatorHotkey}
		if rule.ValidatorHotkey == "" {
			rule.ValidatorHotkey = defaultHotkey
		}

		var err error
		if rule.ActivationPrice, err = decimal.NewFromString(s.ActivationPrice); err != nil {
			return nil, &domain.ConfigError{NetUID: s.NetUID, Reason: fmt.Sprintf("bad activation_price: %v", err)}
		}
		if rule.LimitPrice, err = decimal.NewFromString(s.LimitPrice); err != nil {
			return nil, &domain.ConfigError{NetUID: s.NetUID, Reason: fmt.Sprintf("bad limit_price: %v", err)}
		}
		if rule.StakeAmount, err = decimal.NewFromString(s.StakeAmount); err != nil {
			return nil, &domain.ConfigError{NetUID: s.NetUID, Reason: fmt.Sprintf("bad stake_amount: %v", err)}
		}
		if s.ProfitTarget != "" {
			if rule.ProfitTarget, err = decimal.NewFromString(s.ProfitTarget); err != nil {
				return nil, &domain.ConfigError{NetUID: s.NetUID, Reason: fmt.Sprintf("bad profit_target: %v", err)}
			}
			if rule.SellSlippagePct, err = decimal.NewFromString(s.SellSlippagePct); err != nil {
				return nil, &domain.ConfigError{NetUID: s.NetUID, Reason: fmt.Sprintf("bad sell_slippage_pct: %v", err)}
			}
		}
		rules = append(rules, rule)
	}
	return domain.NewRuleSet(rules)
}

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Rules are validated before anything connects: a bad config must never
	// reach the chain.
	keystore, err := wallet.Load(cfg.Wallet.KeystorePath)
	if err != nil {
		log.Fatal("Failed to load keystore", zap.Error(err))
	}
	rules, err := buildRules(cfg, cfg.Wallet.DefaultHotkey)
	if err != nil {
		log.Fatal("Invalid rule configuration", zap.Error(err))
	}

	ledger, err := storage.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init ledger", zap.Error(err))
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := chain.NewSubstrateClient(cfg.Network.Endpoint, cfg.Network.FallbackEndpoints, log)
	if err := client.Connect(ctx); err != nil {
		log.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer client.Close()

	rtc := &domain.RuntimeContext{
		Network:       cfg.Network.Endpoint,
		Signer:        keystore,
		DefaultHotkey: cfg.Wallet.DefaultHotkey,
	}

	engine := usecase.NewStakeEngine(rules, ledger, client, rtc, log,
		time.Duration(cfg.Engine.SubmitTimeoutMs)*time.Millisecond)

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Engine stopped", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

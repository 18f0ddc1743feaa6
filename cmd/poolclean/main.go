// Package main implements poolclean, the retention and dust-sweep tool for
// the monero-pool LMDB store. It deletes shares, payments and blocks older
// than the retention window, drops empty balances and optionally moves dust
// balances of inactive miners into the pool wallet.
package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/bardlex/poolclean/internal/config"
	"github.com/bardlex/poolclean/internal/database"
	"github.com/bardlex/poolclean/internal/database/influx"
	"github.com/bardlex/poolclean/internal/database/postgres"
	"github.com/bardlex/poolclean/internal/database/redis"
	"github.com/bardlex/poolclean/pkg/errors"
	"github.com/bardlex/poolclean/pkg/log"
)

type options struct {
	RetentionDays        int    `short:"r" long:"retention-days" description:"Number of days to retain data (default: 365)"`
	DryRun               bool   `short:"n" long:"dry-run" description:"Show what would be deleted without deleting"`
	Verbose              bool   `short:"v" long:"verbose" description:"Report every match"`
	Force                bool   `short:"f" long:"force" description:"Skip the confirmation prompt"`
	NoShares             bool   `long:"no-shares" description:"Skip cleaning shares"`
	NoPayments           bool   `long:"no-payments" description:"Skip cleaning payments"`
	NoBlocks             bool   `long:"no-blocks" description:"Skip cleaning blocks"`
	NoBalances           bool   `long:"no-balances" description:"Skip cleaning zero balances"`
	DustBalances         bool   `long:"dust-balances" description:"Sweep dust balances of inactive miners into the pool wallet"`
	DustThreshold        string `long:"dust-threshold" description:"Dust threshold in XMR (default: 0.1)"`
	PoolWallet           string `long:"pool-wallet" description:"Pool wallet receiving swept dust (required with --dust-balances)"`
	DeleteUnlockedBlocks bool   `long:"delete-unlocked-blocks" description:"Also delete old blocks whose reward has unlocked"`
	StatsOnly            bool   `long:"stats-only" description:"Only show database statistics"`
	LogLevel             string `long:"log-level" description:"debug, info, warn or error"`
	LogFormat            string `long:"log-format" description:"text or json"`

	Args struct {
		Database string `positional-arg-name:"database" description:"Path to the LMDB environment"`
	} `positional-args:"yes"`
}

func main() {
	os.Exit(poolclean())
}

// poolclean runs one invocation and returns the exit status. Policy
// violations and store failures exit 1; a failed table or sink is logged
// and does not change the status.
func poolclean() int {
	cfg := config.Load()

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] database"
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if stderrors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}
	applyFlags(cfg, &opts, parser)

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).WithFields(errorFields(err)...).Error("refusing to run")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := database.Open(ctx, sinkConfig(cfg), logger)
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.WithError(err).Warn("failed to close sinks")
		}
	}()

	if err := newApp(cfg, logger, os.Stdin, os.Stdout, sinks).run(ctx); err != nil {
		logger.WithError(err).WithFields(errorFields(err)...).Error("poolclean failed")
		return 1
	}
	return 0
}

// errorFields turns the context of a ServiceError into log fields, sorted by
// key
func errorFields(err error) []any {
	ctx := errors.GetContext(err)
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		fields = append(fields, k, ctx[k])
	}
	return fields
}

// applyFlags layers explicitly given flags over the environment
func applyFlags(cfg *config.Config, opts *options, parser *flags.Parser) {
	set := func(long string) bool {
		o := parser.FindOptionByLongName(long)
		return o != nil && o.IsSet()
	}

	if opts.Args.Database != "" {
		cfg.DBPath = opts.Args.Database
	}
	if set("retention-days") {
		cfg.RetentionDays = opts.RetentionDays
	}
	if set("dust-threshold") {
		cfg.DustThreshold = opts.DustThreshold
	}
	if set("pool-wallet") {
		cfg.PoolWallet = opts.PoolWallet
	}
	if set("log-level") {
		cfg.LogLevel = opts.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = opts.LogFormat
	}

	cfg.DryRun = cfg.DryRun || opts.DryRun
	cfg.Verbose = cfg.Verbose || opts.Verbose
	cfg.Force = cfg.Force || opts.Force
	cfg.StatsOnly = cfg.StatsOnly || opts.StatsOnly
	cfg.SkipShares = cfg.SkipShares || opts.NoShares
	cfg.SkipPayments = cfg.SkipPayments || opts.NoPayments
	cfg.SkipBlocks = cfg.SkipBlocks || opts.NoBlocks
	cfg.SkipBalances = cfg.SkipBalances || opts.NoBalances
	cfg.DustSweep = cfg.DustSweep || opts.DustBalances
	if opts.DeleteUnlockedBlocks {
		cfg.KeepUnlockedBlocks = false
	}
}

func sinkConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		Postgres: postgres.DefaultConfig(cfg.PostgresURL),
		Redis:    &redis.Config{URL: cfg.RedisURL},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
		KafkaBrokers:   cfg.KafkaBrokers,
		PushgatewayURL: cfg.PushgatewayURL,
		LockKey:        cfg.LockKey,
		LockTTL:        cfg.LockTTL,
		SeriesKeys:     cfg.SeriesKeys,
	}
}

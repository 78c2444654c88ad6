package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cryptoedge/candlestream/internal/backfill"
	"github.com/cryptoedge/candlestream/internal/circuit"
	"github.com/cryptoedge/candlestream/internal/config"
	httpsrv "github.com/cryptoedge/candlestream/internal/interfaces/http"
	"github.com/cryptoedge/candlestream/internal/processor"
	"github.com/cryptoedge/candlestream/internal/ratelimit"
	"github.com/cryptoedge/candlestream/internal/runner"
	"github.com/cryptoedge/candlestream/internal/sink"
	"github.com/cryptoedge/candlestream/internal/sink/csvsink"
	"github.com/cryptoedge/candlestream/internal/sink/kafkasink"
	"github.com/cryptoedge/candlestream/internal/sink/redissink"
	"github.com/cryptoedge/candlestream/internal/sink/sqlsink"
	"github.com/cryptoedge/candlestream/internal/timeframe"
)

const (
	appName = "candlestream"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Normalized OHLCV candle ingestion across Binance, Bybit, OKX, and Kraken",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", "config.yaml", "path to the runner YAML config")
	rootCmd.PersistentFlags().String("env", ".env", "path to a .env file holding sink DSNs/credentials")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start every configured exchange pipeline and serve /healthz + /metrics",
		RunE:  runRun,
	}
	runCmd.Flags().String("metrics-addr", "", "override global.metrics_addr")

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Paginate historical candles for one (exchange, symbol, timeframe) into the configured sinks",
		RunE:  runBackfill,
	}
	backfillCmd.Flags().String("exchange", "", "exchange name (binance|bybit|okx|kraken)")
	backfillCmd.Flags().String("symbol", "", "symbol, exchange-native casing (e.g. BTCUSDT)")
	backfillCmd.Flags().String("market-type", "", "market type: Binance (spot|futures_usdm|futures_coinm) or Bybit (spot|linear|inverse); ignored elsewhere")
	backfillCmd.Flags().String("timeframe", string(timeframe.M1), "base timeframe to backfill")
	backfillCmd.Flags().String("from", "", "start date, YYYY-MM-DD")
	backfillCmd.Flags().String("to", "now", "end date, YYYY-MM-DD or \"now\"")
	for _, name := range []string{"exchange", "symbol", "from"} {
		backfillCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(runCmd, backfillCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("candlestream: fatal")
	}
}

// appContext returns a context cancelled on SIGINT/SIGTERM.
func appContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	envPath, _ := cmd.Flags().GetString("env")
	return config.Load(cfgPath, envPath)
}

// buildSinks registers one concrete sink per entry enabled in cfg.Sinks.
// DSNs/addresses/broker lists come from the environment, never the YAML
// file, keeping credentials out of version control. The returned
// *redissink.Sink (nil if Redis is disabled) doubles as a warmup.Cache for
// the caller to wire into runner.Config.Cache.
func buildSinks(cfg *config.Config) (*sink.Fanout, *redissink.Sink, error) {
	fanout := sink.NewFanout()
	var redisSink *redissink.Sink
	if cfg.Sinks.CSV != nil {
		fanout.Register(csvsink.New(cfg.Sinks.CSV.Path))
	}
	if cfg.Sinks.SQL != nil {
		dsn := os.Getenv("CANDLESTREAM_SQL_DSN")
		if dsn == "" {
			return nil, nil, fmt.Errorf("sql sink enabled but CANDLESTREAM_SQL_DSN is not set")
		}
		s := sqlsink.New(dsn)
		fanout.Register(s)
	}
	if cfg.Sinks.Redis != nil && cfg.Sinks.Redis.Enabled {
		addr := os.Getenv("CANDLESTREAM_REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		redisSink = redissink.New(addr)
		fanout.Register(redisSink)
	}
	if cfg.Sinks.Kafka != nil {
		kcfg := kafkasink.DefaultConfig()
		kcfg.Topic = cfg.Sinks.Kafka.Topic
		if brokers := os.Getenv("CANDLESTREAM_KAFKA_BROKERS"); brokers != "" {
			kcfg.Brokers = splitCSV(brokers)
		}
		if err := kcfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("kafka sink config: %w", err)
		}
		fanout.Register(kafkasink.New(kcfg))
	}
	return fanout, redisSink, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// runRun wires every configured RunnerConfig into a runner.Runner, warming
// up buffers before streaming, and serves /healthz + /metrics until the
// process receives an interrupt.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Global.MetricsAddr = addr
	}

	limiter := ratelimit.NewManager()
	breaker := circuit.NewRegistry()
	for name, ex := range cfg.Exchanges {
		if name == "bybit" {
			limiter.RegisterSharedVenue(name, float64(ex.RPS), ex.Burst)
		} else {
			limiter.RegisterVenue(name, float64(ex.RPS), ex.Burst)
		}
	}

	ctx, cancel := appContext()
	defer cancel()

	connectors := make(map[string]httpsrv.ConnectorStater)
	runners := make([]*runner.Runner, 0, len(cfg.Runners))

	for _, rc := range cfg.Runners {
		ex, ok := cfg.Exchanges[rc.Exchange]
		if !ok {
			return fmt.Errorf("runner %s/%s: exchange %q not configured", rc.Exchange, rc.Symbol, rc.Exchange)
		}
		base := timeframe.Timeframe(rc.BaseTimeframe)
		targets, err := parseTimeframeList(joinCSV(rc.AggregateList))
		if err != nil {
			return fmt.Errorf("runner %s/%s: %w", rc.Exchange, rc.Symbol, err)
		}

		name := fmt.Sprintf("%s.%s.%s", rc.Exchange, rc.Symbol, rc.BaseTimeframe)
		wsCfg, err := buildWSConfig(rc.Exchange, ex, rc.Symbol, base, rc.MarketType, name)
		if err != nil {
			return fmt.Errorf("runner %s: %w", name, err)
		}

		procCfg := processor.Config{
			Base:                  base,
			Targets:               targets,
			EmitOnlyClosedCandles: rc.EmitOnlyClosedCandles,
			EmitWarmup:            rc.EmitWarmup,
		}

		fanout, redisCache, err := buildSinks(cfg)
		if err != nil {
			return fmt.Errorf("runner %s: %w", name, err)
		}

		runnerCfg := runner.Config{Name: name, Symbol: rc.Symbol, ConnectorCfg: wsCfg, ProcessorCfg: procCfg, Fanout: fanout}
		if rc.ActiveWarmup {
			restFetcher, _, err := restClientFor(rc.Exchange, ex, rc.MarketType, limiter, breaker)
			if err != nil {
				return fmt.Errorf("runner %s: %w", name, err)
			}
			runnerCfg.ActiveWarmup = true
			runnerCfg.RestFetcher = restFetcher
			if redisCache != nil {
				runnerCfg.Cache = redisCache
			}
		}

		r, err := runner.New(runnerCfg)
		if err != nil {
			return err
		}

		runners = append(runners, r)
		connectors[name] = r
		color.Green("wired %s", name)
	}

	srv := httpsrv.NewServer(httpsrv.DefaultServerConfig(cfg.Global.MetricsAddr), httpsrv.NewHealthHandler(connectors, version))
	srvErrCh := make(chan error, 1)
	go func() { srvErrCh <- srv.Start() }()

	runErrCh := make(chan error, len(runners))
	for _, r := range runners {
		r := r
		go func() { runErrCh <- r.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err := <-runErrCh:
		if err != nil {
			log.Error().Err(err).Msg("runner exited with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health/metrics server shutdown")
	}
	return <-srvErrCh
}

func joinCSV(vals []string) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

// runBackfill parses the --from/--to window, builds the named exchange's
// REST client, and paginates it into the configured sinks.
func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exchange, _ := cmd.Flags().GetString("exchange")
	symbol, _ := cmd.Flags().GetString("symbol")
	marketType, _ := cmd.Flags().GetString("market-type")
	tfStr, _ := cmd.Flags().GetString("timeframe")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	tf := timeframe.Timeframe(tfStr)
	if !timeframe.Valid(tf) {
		return fmt.Errorf("invalid --timeframe %q", tfStr)
	}

	now := time.Now()
	from, err := backfill.ParseDate(fromStr, now)
	if err != nil {
		return err
	}
	to, err := backfill.ParseDate(toStr, now)
	if err != nil {
		return err
	}

	ex, ok := cfg.Exchanges[exchange]
	if !ok {
		return fmt.Errorf("exchange %q not configured", exchange)
	}

	limiter := ratelimit.NewManager()
	breaker := circuit.NewRegistry()
	if exchange == "bybit" {
		limiter.RegisterSharedVenue(exchange, float64(ex.RPS), ex.Burst)
	} else {
		limiter.RegisterVenue(exchange, float64(ex.RPS), ex.Burst)
	}

	_, fetcher, err := restClientFor(exchange, ex, marketType, limiter, breaker)
	if err != nil {
		return err
	}

	fanout, _, err := buildSinks(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := appContext()
	defer cancel()

	exitCode, err := backfill.Run(ctx, fetcher, fanout, backfill.Config{
		Exchange:   exchange,
		Symbol:     symbol,
		Timeframe:  tf,
		From:       from,
		To:         to,
		MarketType: marketType,
	})
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return err
}

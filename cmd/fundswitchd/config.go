package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gashie/fundswitch/config"
)

// loadConfig loads configuration from flags, environment variables, and the
// built-in defaults in config.Default.
func loadConfig() (*config.Config, error) {
	def := config.Default()
	v := viper.New()

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.output", def.Log.Output)
	v.SetDefault("api.host", def.API.Host)
	v.SetDefault("api.port", def.API.Port)
	v.SetDefault("db.dsn", def.DB.DSN)
	v.SetDefault("db.maxopenconn", def.DB.MaxOpenConn)
	v.SetDefault("gip.baseurl", def.Gip.BaseURL)
	v.SetDefault("gip.requesttimeout", def.Gip.RequestTimeout)
	v.SetDefault("timeouts.nameenquiry", def.Timeouts.NameEnquiry)
	v.SetDefault("timeouts.ftd", def.Timeouts.FTD)
	v.SetDefault("timeouts.ftc", def.Timeouts.FTC)
	v.SetDefault("timeouts.transaction", def.Timeouts.Transaction)
	v.SetDefault("timeouts.reversal", def.Timeouts.Reversal)
	v.SetDefault("tsq.maxattempts", def.TSQ.MaxAttempts)
	v.SetDefault("tsq.baseinterval", def.TSQ.BaseInterval)
	v.SetDefault("deliver.maxattempts", def.Deliver.MaxAttempts)
	v.SetDefault("deliver.initialdelay", def.Deliver.InitialDelay)
	v.SetDefault("deliver.backoffmultiplier", def.Deliver.BackoffMultiplier)
	v.SetDefault("deliver.maxdelay", def.Deliver.MaxDelay)
	v.SetDefault("deliver.requesttimeout", def.Deliver.RequestTimeout)
	v.SetDefault("poll.callback", def.Poll.Callback)
	v.SetDefault("poll.tsq", def.Poll.TSQ)
	v.SetDefault("poll.reversal", def.Poll.Reversal)
	v.SetDefault("poll.deliver", def.Poll.Deliver)
	v.SetDefault("poll.batchsize", def.Poll.BatchSize)

	flag.StringP("log.level", "l", def.Log.Level, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", def.Log.Output, "log output (stdout, stderr or filepath)")
	flag.StringP("api.host", "h", def.API.Host, "inbound HTTP API host")
	flag.IntP("api.port", "p", def.API.Port, "inbound HTTP API port")
	flag.String("db.dsn", def.DB.DSN, "Postgres connection string")
	flag.Int("db.maxopenconn", def.DB.MaxOpenConn, "maximum open database connections")
	flag.String("gip.baseurl", def.Gip.BaseURL, "base URL of the GIP gateway (required)")
	flag.Duration("gip.requesttimeout", def.Gip.RequestTimeout, "per-call timeout for outbound GIP requests")
	flag.Duration("timeouts.ftd", def.Timeouts.FTD, "deadline for an FTD callback to arrive")
	flag.Duration("timeouts.ftc", def.Timeouts.FTC, "deadline for an FTC callback to arrive")
	flag.Duration("timeouts.transaction", def.Timeouts.Transaction, "overall transaction deadline")
	flag.Duration("timeouts.reversal", def.Timeouts.Reversal, "deadline for a reversal callback before retrying")
	flag.Int("tsq.maxattempts", def.TSQ.MaxAttempts, "maximum TSQ resolution attempts before escalation")
	flag.Duration("tsq.baseinterval", def.TSQ.BaseInterval, "base interval for TSQ retry backoff (interval * 2^attempts)")
	flag.Int("deliver.maxattempts", def.Deliver.MaxAttempts, "maximum client webhook delivery attempts")
	flag.Duration("deliver.initialdelay", def.Deliver.InitialDelay, "delay before the first webhook retry")
	flag.Float64("deliver.backoffmultiplier", def.Deliver.BackoffMultiplier, "webhook retry backoff multiplier")
	flag.Duration("deliver.maxdelay", def.Deliver.MaxDelay, "cap on webhook retry delay")
	flag.Duration("poll.callback", def.Poll.Callback, "Callback Processor poll interval")
	flag.Duration("poll.tsq", def.Poll.TSQ, "TSQ Worker poll interval")
	flag.Duration("poll.reversal", def.Poll.Reversal, "Reversal Worker poll interval")
	flag.Duration("poll.deliver", def.Poll.Deliver, "Client Callback Deliverer poll interval")
	flag.Int("poll.batchsize", def.Poll.BatchSize, "rows claimed per worker tick")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fundswitchd — interbank funds-transfer switch orchestrator\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fundswitchd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available, prefixed FUNDSWITCH_ and\n")
		fmt.Fprintf(os.Stderr, "with dots replaced by underscores, e.g. FUNDSWITCH_GIP_BASEURL.\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("FUNDSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *config.Config) error {
	if cfg.Gip.BaseURL == "" {
		return fmt.Errorf("gip.baseUrl is required (use --gip.baseurl or FUNDSWITCH_GIP_BASEURL)")
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	return nil
}

// Package cmd implements the callpulse CLI commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/crm"
	"github.com/theirongolddev/callpulse/internal/pipeline"
	"github.com/theirongolddev/callpulse/internal/reconcile"
	"github.com/theirongolddev/callpulse/internal/sheet"
	"github.com/theirongolddev/callpulse/internal/store"
	"github.com/theirongolddev/callpulse/internal/syncer"
	"github.com/theirongolddev/callpulse/internal/telephony"
)

var (
	flagConfig  string
	flagLogJSON bool
	flagVerbose bool
	flagTimeout time.Duration

	// logOutput receives logs; commands that own the terminal redirect it.
	logOutput io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:           "callpulse",
	Short:         "Daily call-center metrics",
	Long:          "Synchronize telephony and sales CRM activity into daily per-operator metrics.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runToday,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "  error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", config.Path(), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Log as JSON instead of console text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Minute, "Overall timeout for one-shot commands")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(flagConfig)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.General.LogLevel))
	if err != nil || cfg.General.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if flagVerbose {
		level = zerolog.DebugLevel
	}

	if flagLogJSON {
		return zerolog.New(logOutput).Level(level).With().Timestamp().Logger()
	}
	w := zerolog.ConsoleWriter{Out: logOutput, TimeFormat: "15:04:05", NoColor: logOutput != os.Stderr}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

const upstreamTimeout = 30 * time.Second

// runtime holds the wired collaborators shared by commands.
type runtime struct {
	cfg   config.Config
	log   zerolog.Logger
	store *store.Store
	coord *syncer.Coordinator
	tel   *telephony.Client
	crm   *crm.Client
}

// openRuntime loads config, opens the store and wires a coordinator.
// Upstreams without credentials are left out.
func openRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	loc := cfg.Location()

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log, store: st}
	rt.tel = telephony.NewClient(telephony.Options{
		BaseURL:    cfg.Telephony.BaseURL,
		Token:      cfg.Telephony.Token,
		PageSize:   cfg.Telephony.PageSize,
		Location:   loc,
		HTTPClient: &http.Client{Timeout: upstreamTimeout},
	})
	rt.crm = newCRMClient(cfg, log)

	opts := syncer.Options{
		Store:       st,
		Rules:       pipeline.RulesFromConfig(cfg),
		CallFilter:  telephony.CallFilter{Campaigns: cfg.Telephony.Campaigns.Active},
		OperatorMap: cfg.CRM.OperatorMap,
		Branches:    cfg.Branches,
		PhoneRegion: cfg.Telephony.PhoneRegion,
		Location:    loc,
		Cooldown:    cfg.Cooldown(),
		Logger:      log,
	}
	// Interface fields stay nil for missing clients; a typed nil would
	// look configured.
	if rt.tel != nil {
		opts.Telephony = rt.tel
		opts.Live = rt.tel
	} else {
		log.Warn().Msg("telephony not configured")
	}
	if rt.crm != nil {
		opts.CRM = reconcile.New(rt.crm, reconcileRules(cfg), log)
		opts.CRMUsers = rt.crm
	} else {
		log.Info().Msg("sales CRM not configured, CRM counters stay zero")
	}
	if sc := sheet.NewClient(cfg.Sheet.CSVURL, loc, &http.Client{Timeout: upstreamTimeout}); sc != nil {
		opts.Sheet = sc
	}

	rt.coord = syncer.New(opts)
	return rt, nil
}

func newCRMClient(cfg config.Config, log zerolog.Logger) *crm.Client {
	return crm.NewClient(crm.Options{
		BaseURL:      cfg.CRM.BaseURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RedirectURI:  cfg.CRM.RedirectURI,
		LongToken:    cfg.CRM.LongToken,
		TokensFile:   cfg.CRM.TokensFile,
		UsersMapFile: cfg.CRM.UsersMapFile,
		HTTPClient:   &http.Client{Timeout: upstreamTimeout},
		Limiter:      rate.NewLimiter(rate.Limit(6), 2),
		Logger:       log,
	})
}

func reconcileRules(cfg config.Config) reconcile.Rules {
	return reconcile.Rules{
		TrackedFieldID:      cfg.CRM.TrackedFieldID,
		MeetingDoneStatusID: cfg.CRM.MeetingDoneStatusID,
		SuccessStatusID:     cfg.CRM.SuccessStatusID,
		RevenueFieldID:      cfg.CRM.RevenueFieldID,
		MinCallSecs:         cfg.CRM.MinCallSecs,
		OperatorMap:         cfg.CRM.OperatorMap,
	}
}

// Close waits for background refreshes and closes the store.
func (r *runtime) Close() {
	r.coord.Wait()
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("closing store")
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), flagTimeout)
}

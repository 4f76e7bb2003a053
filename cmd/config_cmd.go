package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("  Config file: %s\n", flagConfig)
	if config.Exists(flagConfig) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Timezone:  %s\n", cfg.Location())
	fmt.Printf("    Database:  %s\n", cfg.DBPath())
	fmt.Printf("    Log level: %s\n", cfg.General.LogLevel)
	fmt.Println()

	fmt.Println("  [Telephony]")
	printEndpoint(cfg.Telephony.BaseURL, cfg.Telephony.Token)
	fmt.Printf("    Substantive statuses: %s\n", strings.Join(cfg.Telephony.SubstantiveStatuses, ","))
	fmt.Printf("    Agreement / transfer / lead agent: %s / %s / %s\n",
		cfg.Telephony.AgreementStatus, cfg.Telephony.TransferStatus, cfg.Telephony.LeadAgentStatus)
	fmt.Printf("    Dialog floor: %ds\n", cfg.Telephony.DialogFloorSecs)
	fmt.Println()

	fmt.Println("  [Sales CRM]")
	token := cfg.CRM.LongToken
	if token == "" && cfg.CRM.TokensFile != "" {
		token = "(tokens file " + cfg.CRM.TokensFile + ")"
	}
	printEndpoint(cfg.CRM.BaseURL, token)
	fmt.Printf("    Tracked field: %d  meeting status: %d  success status: %d\n",
		cfg.CRM.TrackedFieldID, cfg.CRM.MeetingDoneStatusID, cfg.CRM.SuccessStatusID)
	fmt.Printf("    Operator map: %d entries\n", len(cfg.CRM.OperatorMap))
	fmt.Println()

	fmt.Println("  [Sheet]")
	if cfg.Sheet.CSVURL == "" {
		fmt.Println("    not configured")
	} else {
		fmt.Printf("    CSV: %s\n", cfg.Sheet.CSVURL)
	}
	fmt.Println()

	fmt.Println("  [Sync]")
	fmt.Printf("    Cooldown: %s  backfill: %d days\n", cfg.Cooldown(), cfg.Sync.BackfillDays)
	fmt.Printf("    Nightly %q  today %q  directory %q  report %q\n",
		cfg.Sync.NightlyCron, cfg.Sync.TodayCron, cfg.Sync.DirectoryCron, cfg.Sync.ReportCron)
	fmt.Println()

	fmt.Println("  [Server]")
	fmt.Printf("    Addr: %s\n", cfg.Server.Addr)
	if cfg.Server.AdminToken != "" {
		fmt.Printf("    Admin token: %s\n", maskSecret(cfg.Server.AdminToken))
	} else {
		fmt.Println("    Admin token: not set (admin endpoints disabled)")
	}
	fmt.Println()

	fmt.Println("  [Telegram]")
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == 0 {
		fmt.Println("    not configured")
	} else {
		fmt.Printf("    Bot token: %s  chat: %d\n", maskSecret(cfg.Telegram.BotToken), cfg.Telegram.ChatID)
	}
	fmt.Println()

	if len(cfg.Branches) > 0 {
		fmt.Println("  [Branches]")
		names := make([]string, 0, len(cfg.Branches))
		for name := range cfg.Branches {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %s: %d operators\n", name, len(cfg.Branches[name]))
		}
		fmt.Println()
	}
	if len(cfg.ExcludedOperators) > 0 {
		fmt.Printf("  Excluded operators: %s\n\n", strings.Join(cfg.ExcludedOperators, ", "))
	}

	fmt.Println("  Run `callpulse setup` to reconfigure.")
	return nil
}

func printEndpoint(url, token string) {
	if url == "" {
		fmt.Println("    URL:   not configured")
		return
	}
	fmt.Printf("    URL:   %s\n", url)
	switch {
	case token == "":
		fmt.Println("    Token: not configured")
	case strings.HasPrefix(token, "("):
		fmt.Printf("    Token: %s\n", token)
	default:
		fmt.Printf("    Token: %s\n", maskSecret(token))
	}
}

func maskSecret(key string) string {
	if len(key) > 16 {
		return key[:6] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:2] + "..."
	}
	return "****"
}

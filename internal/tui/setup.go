package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

// SetupValues are the fields edited by the setup wizard. Secrets left
// blank keep the value already in the config.
type SetupValues struct {
	TelephonyURL   string
	TelephonyToken string
	CRMURL         string
	CRMToken       string
	SheetURL       string
	Timezone       string
	BotToken       string
	ChatID         string
	Theme          string
	AutoRefresh    bool
}

// SetupValuesFrom seeds the wizard from an existing config.
func SetupValuesFrom(cfg config.Config) SetupValues {
	v := SetupValues{
		TelephonyURL: cfg.Telephony.BaseURL,
		CRMURL:       cfg.CRM.BaseURL,
		SheetURL:     cfg.Sheet.CSVURL,
		Timezone:     cfg.General.Timezone,
		Theme:        cfg.TUI.Theme,
		AutoRefresh:  cfg.TUI.AutoRefresh,
	}
	if cfg.Telegram.ChatID != 0 {
		v.ChatID = strconv.FormatInt(cfg.Telegram.ChatID, 10)
	}
	return v
}

// Apply writes the wizard values into cfg.
func (v SetupValues) Apply(cfg *config.Config) {
	cfg.Telephony.BaseURL = strings.TrimRight(strings.TrimSpace(v.TelephonyURL), "/")
	cfg.CRM.BaseURL = strings.TrimRight(strings.TrimSpace(v.CRMURL), "/")
	cfg.Sheet.CSVURL = strings.TrimSpace(v.SheetURL)
	setIfNotEmpty(&cfg.Telephony.Token, v.TelephonyToken)
	setIfNotEmpty(&cfg.CRM.LongToken, v.CRMToken)
	setIfNotEmpty(&cfg.Telegram.BotToken, v.BotToken)
	setIfNotEmpty(&cfg.General.Timezone, v.Timezone)
	setIfNotEmpty(&cfg.TUI.Theme, v.Theme)
	cfg.TUI.AutoRefresh = v.AutoRefresh

	if id, err := strconv.ParseInt(strings.TrimSpace(v.ChatID), 10, 64); err == nil {
		cfg.Telegram.ChatID = id
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// NewSetupForm builds the first-run wizard bound to v.
func NewSetupForm(v *SetupValues) *huh.Form {
	themes := make([]huh.Option[string], len(theme.All))
	for i, t := range theme.All {
		themes[i] = huh.NewOption(t.Name, t.Name)
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telephony API URL").
				Placeholder("https://pbx.example.ru/api").
				Value(&v.TelephonyURL),
			huh.NewInput().
				Title("Telephony token").
				Description("Leave blank to keep the current token.").
				EchoMode(huh.EchoModePassword).
				Value(&v.TelephonyToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Sales CRM URL").
				Placeholder("https://company.amocrm.ru").
				Value(&v.CRMURL),
			huh.NewInput().
				Title("Sales CRM long-lived token").
				Description("Leave blank to keep the current token or use OAuth.").
				EchoMode(huh.EchoModePassword).
				Value(&v.CRMToken),
			huh.NewInput().
				Title("Spreadsheet CSV URL").
				Description("Optional. Supplies the tagged-lead counts.").
				Value(&v.SheetURL),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Reporting timezone").
				Validate(validateTimezone).
				Value(&v.Timezone),
			huh.NewInput().
				Title("Telegram bot token").
				Description("Optional. Enables the daily report.").
				EchoMode(huh.EchoModePassword).
				Value(&v.BotToken),
			huh.NewInput().
				Title("Telegram chat id").
				Validate(validateChatID).
				Value(&v.ChatID),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themes...).
				Value(&v.Theme),
			huh.NewConfirm().
				Title("Auto-refresh the dashboard?").
				Value(&v.AutoRefresh),
		),
	)
}

func validateTimezone(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}

func validateChatID(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
		return fmt.Errorf("chat id must be an integer")
	}
	return nil
}

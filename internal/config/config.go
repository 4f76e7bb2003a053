package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo for minimal containers

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all callpulse configuration.
type Config struct {
	ExcludedOperators []string            `toml:"excluded_operators,omitempty"`
	Branches          map[string][]string `toml:"branches,omitempty"`

	General   GeneralConfig   `toml:"general"`
	Telephony TelephonyConfig `toml:"telephony"`
	CRM       CRMConfig       `toml:"crm"`
	Sheet     SheetConfig     `toml:"sheet"`
	Sync      SyncConfig      `toml:"sync"`
	Server    ServerConfig    `toml:"server"`
	Telegram  TelegramConfig  `toml:"telegram"`
	TUI       TUIConfig       `toml:"tui"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	Timezone string `toml:"timezone"`
	DBPath   string `toml:"db_path,omitempty"`
	LogLevel string `toml:"log_level"`
}

// TUIConfig holds dashboard preferences.
type TUIConfig struct {
	Theme              string `toml:"theme"`
	AutoRefresh        bool   `toml:"auto_refresh"`
	RefreshIntervalSec int    `toml:"refresh_interval_sec"`
	RangeDays          int    `toml:"range_days"`
}

// TelephonyConfig holds telephony CRM settings and call classification rules.
type TelephonyConfig struct {
	BaseURL  string `toml:"base_url,omitempty"`
	Token    string `toml:"token,omitempty"`
	PageSize int    `toml:"page_size"`

	SubstantiveStatuses []string `toml:"substantive_statuses"`
	AgreementStatus     string   `toml:"agreement_status"`
	TransferStatus      string   `toml:"transfer_status"`
	LeadAgentStatus     string   `toml:"lead_agent_status"`
	DialogFloorSecs     int64    `toml:"dialog_floor_secs"`

	Campaigns   CampaignSet `toml:"campaigns"`
	PhoneRegion string      `toml:"phone_region"`
}

// CRMConfig holds sales CRM settings.
type CRMConfig struct {
	BaseURL      string `toml:"base_url,omitempty"`
	ClientID     string `toml:"client_id,omitempty"`
	ClientSecret string `toml:"client_secret,omitempty"`
	RedirectURI  string `toml:"redirect_uri,omitempty"`
	LongToken    string `toml:"long_token,omitempty"`
	TokensFile   string `toml:"tokens_file"`
	UsersMapFile string `toml:"users_map_file"`

	TrackedFieldID      int64 `toml:"tracked_field_id"`
	MeetingDoneStatusID int64 `toml:"meeting_done_status_id"`
	SuccessStatusID     int64 `toml:"success_status_id"`
	RevenueFieldID      int64 `toml:"revenue_field_id"`
	MinCallSecs         int64 `toml:"min_call_secs"`

	// Leads tagged with this enum (or text) on the tracked field are
	// counted by the tagged-leads report.
	TaggedEnumID int64  `toml:"tagged_enum_id"`
	TaggedText   string `toml:"tagged_text"`

	// OperatorMap maps CRM user ids onto telephony operator ids.
	OperatorMap map[string]string `toml:"operator_map,omitempty"`
}

// SheetConfig holds the spreadsheet CSV feed settings.
type SheetConfig struct {
	CSVURL string `toml:"csv_url,omitempty"`
}

// SyncConfig controls the sync coordinator and scheduled jobs.
type SyncConfig struct {
	CooldownSecs  int    `toml:"cooldown_secs"`
	BackfillDays  int    `toml:"backfill_days"`
	NightlyCron   string `toml:"nightly_cron"`
	TodayCron     string `toml:"today_cron"`
	DirectoryCron string `toml:"directory_cron"`
	ReportCron    string `toml:"report_cron"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr       string `toml:"addr"`
	AdminToken string `toml:"admin_token,omitempty"`
}

// TelegramConfig holds daily report delivery settings.
type TelegramConfig struct {
	BotToken string `toml:"bot_token,omitempty"`
	ChatID   int64  `toml:"chat_id,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			Timezone: "Europe/Samara",
			LogLevel: "info",
		},
		Telephony: TelephonyConfig{
			PageSize: 1000,
			SubstantiveStatuses: []string{
				"8", "9", "10", "11", "13", "14", "15", "16",
				"20", "21", "22", "23", "24", "25",
			},
			AgreementStatus: "8",
			TransferStatus:  "20",
			LeadAgentStatus: "21",
			DialogFloorSecs: 20,
			PhoneRegion:     "RU",
		},
		CRM: CRMConfig{
			TokensFile:      "tokens.json",
			UsersMapFile:    "users_map.json",
			TrackedFieldID:  942511,
			SuccessStatusID: 142,
			MinCallSecs:     60,
			TaggedEnumID:    3619433,
			TaggedText:      "ЦК",
		},
		Sync: SyncConfig{
			CooldownSecs:  50,
			BackfillDays:  7,
			NightlyCron:   "15 3 * * *",
			TodayCron:     "*/5 8-21 * * *",
			DirectoryCron: "*/30 * * * *",
			ReportCron:    "30 18 * * *",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8790",
		},
		TUI: TUIConfig{
			Theme:              "flexoki-dark",
			AutoRefresh:        true,
			RefreshIntervalSec: 60,
			RangeDays:          7,
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "callpulse")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "callpulse")
}

// Path returns the full path to the default config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DataDir returns the directory holding the metrics database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "callpulse")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "callpulse")
}

// Load reads the default config file, returning defaults if it doesn't exist.
// A .env file in the working directory and the process environment override
// the file.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the config to path, creating its directory.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // see LoadFile
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Telephony.BaseURL, "TELEPHONY_BASE_URL")
	setString(&cfg.Telephony.Token, "TELEPHONY_TOKEN")
	setString(&cfg.CRM.BaseURL, "AMO_BASE_URL")
	setString(&cfg.CRM.LongToken, "AMO_LONG_TOKEN")
	setString(&cfg.CRM.ClientID, "AMO_CLIENT_ID")
	setString(&cfg.CRM.ClientSecret, "AMO_CLIENT_SECRET")
	setString(&cfg.CRM.RedirectURI, "AMO_REDIRECT_URI")
	setString(&cfg.CRM.TokensFile, "AMO_TOKENS_FILE")
	setString(&cfg.CRM.UsersMapFile, "USERS_MAP_FILE")
	setString(&cfg.Sheet.CSVURL, "SHEET_CSV_URL")
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Server.AdminToken, "CALLPULSE_ADMIN_TOKEN")
	setString(&cfg.General.DBPath, "CALLPULSE_DB")
	setString(&cfg.General.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	cfg.Telephony.BaseURL = strings.TrimRight(cfg.Telephony.BaseURL, "/")
	cfg.CRM.BaseURL = strings.TrimRight(cfg.CRM.BaseURL, "/")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Location returns the configured reporting timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.General.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DBPath returns the metrics database path.
func (c Config) DBPath() string {
	if c.General.DBPath != "" {
		return c.General.DBPath
	}
	return filepath.Join(DataDir(), "metrics.db")
}

// Cooldown returns the minimum interval between two syncs of one date.
func (c Config) Cooldown() time.Duration {
	if c.Sync.CooldownSecs <= 0 {
		return 50 * time.Second
	}
	return time.Duration(c.Sync.CooldownSecs) * time.Second
}

package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Telephony.DialogFloorSecs != 20 {
		t.Fatalf("DialogFloorSecs = %d, want 20", cfg.Telephony.DialogFloorSecs)
	}
	if cfg.Cooldown().Seconds() != 50 {
		t.Fatalf("Cooldown = %s, want 50s", cfg.Cooldown())
	}
	if cfg.Location().String() != "Europe/Samara" {
		t.Fatalf("Location = %s, want Europe/Samara", cfg.Location())
	}
}

func TestLoadFileEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
excluded_operators = ["99"]

[telephony]
base_url = "https://file.example/"
token = "from-file"

[branches]
M = ["1", "2"]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEPHONY_TOKEN", "from-env")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Telephony.Token != "from-env" {
		t.Fatalf("Token = %q, want from-env", cfg.Telephony.Token)
	}
	if cfg.Telephony.BaseURL != "https://file.example" {
		t.Fatalf("BaseURL = %q, want trailing slash trimmed", cfg.Telephony.BaseURL)
	}
	if cfg.Telegram.ChatID != -100123 {
		t.Fatalf("ChatID = %d, want -100123", cfg.Telegram.ChatID)
	}
	if !cfg.Excluded()["99"] {
		t.Fatal("operator 99 should be excluded")
	}
	if got := cfg.Branches["M"]; !slices.Equal(got, []string{"1", "2"}) {
		t.Fatalf("Branches[M] = %v", got)
	}
	// untouched sections keep their defaults
	if cfg.Telephony.AgreementStatus != "8" {
		t.Fatalf("AgreementStatus = %q, want 8", cfg.Telephony.AgreementStatus)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Telephony.Campaigns = CampaignSet{Active: []int{2, 5}, Universe: 6}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(path) {
		t.Fatal("config file not written")
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !slices.Equal(got.Telephony.Campaigns.Active, []int{2, 5}) {
		t.Fatalf("Active = %v", got.Telephony.Campaigns.Active)
	}
}

func TestCampaignSetInactive(t *testing.T) {
	c := CampaignSet{Active: []int{2, 5, 9}, Universe: 6}
	want := []int{1, 3, 4, 6}
	if got := c.Inactive(); !slices.Equal(got, want) {
		t.Fatalf("Inactive = %v, want %v", got, want)
	}
	if !c.IsActive(5) || c.IsActive(3) {
		t.Fatal("IsActive mismatch")
	}
	if (CampaignSet{}).Inactive() != nil {
		t.Fatal("empty universe has no inactive campaigns")
	}
}

func TestStatusSet(t *testing.T) {
	s := NewStatusSet("8", " 20 ", "")
	if !s.Has("8") || !s.Has("20") || s.Has("") || s.Has("9") {
		t.Fatalf("unexpected membership: %v", s)
	}
}

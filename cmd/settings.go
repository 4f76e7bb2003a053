package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/daemon"
	"github.com/theirongolddev/callpulse/internal/store"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "List runtime settings stored in the database",
	RunE:  runSettingsList,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one runtime setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a runtime setting",
	Long:  "Change a runtime setting. Known keys: backfill_days (1..366), report_enabled.",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DBPath())
}

func runSettingsList(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.Settings(context.Background())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(all)
	}
	if len(all) == 0 {
		fmt.Println("  No settings stored; config defaults apply.")
		return nil
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-16s %s\n", k, all[k])
	}
	return nil
}

func runSettingsGet(_ *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	v, ok, err := st.GetSetting(context.Background(), args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setting %q is not set", args[0])
	}
	fmt.Println(v)
	return nil
}

func runSettingsSet(_ *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := daemon.ValidateSetting(key, value); err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetSetting(context.Background(), key, value); err != nil {
		return err
	}
	fmt.Printf("  %s = %s\n", key, value)
	return nil
}

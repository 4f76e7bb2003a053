package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/cli"
	"github.com/theirongolddev/callpulse/internal/crm"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/reconcile"
)

var flagAuthCode string

var crmCmd = &cobra.Command{
	Use:   "crm",
	Short: "Sales CRM utilities",
}

var crmAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Exchange an OAuth authorization code for a token pair",
	RunE:  runCRMAuth,
}

var crmTaggedCmd = &cobra.Command{
	Use:   "tagged",
	Short: "Count leads created in a range that carry the tracked tag, per operator",
	RunE:  runCRMTagged,
}

func init() {
	crmAuthCmd.Flags().StringVar(&flagAuthCode, "code", "", "One-time authorization code")
	_ = crmAuthCmd.MarkFlagRequired("code")
	addRangeFlags(crmTaggedCmd)

	crmCmd.AddCommand(crmAuthCmd, crmTaggedCmd)
	rootCmd.AddCommand(crmCmd)
}

func runCRMAuth(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.CRM.ClientID == "" || cfg.CRM.ClientSecret == "" {
		return errors.New("crm.client_id and crm.client_secret are required")
	}

	ctx, cancel := commandContext()
	defer cancel()

	tokens, err := crm.Exchange(ctx, crm.Options{
		BaseURL:      cfg.CRM.BaseURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		RedirectURI:  cfg.CRM.RedirectURI,
		TokensFile:   cfg.CRM.TokensFile,
	}, flagAuthCode)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}
	fmt.Printf("  Access token %s saved to %s\n", maskSecret(tokens.AccessToken), cfg.CRM.TokensFile)
	return nil
}

func runCRMTagged(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.crm == nil {
		return crm.ErrNotConfigured
	}

	ctx, cancel := commandContext()
	defer cancel()

	start, end := rt.rangeBounds()
	loc := rt.coord.Location()
	from, err := model.ParseDate(start, loc)
	if err != nil {
		return err
	}
	last, err := model.ParseDate(end, loc)
	if err != nil {
		return err
	}
	_, to := model.DayBounds(last, loc)

	leads, err := rt.crm.LeadsCreated(ctx, from, to)
	if err != nil {
		return fmt.Errorf("listing leads: %w", err)
	}
	counts := reconcile.CountTaggedLeads(leads, rt.cfg.CRM.TrackedFieldID, rt.cfg.CRM.TaggedEnumID, rt.cfg.CRM.TaggedText, rt.cfg.CRM.OperatorMap)

	if err := rt.coord.RefreshDirectory(ctx); err != nil {
		rt.log.Warn().Err(err).Msg("directory refresh failed, showing ids")
	}
	dir := rt.coord.Directory()

	if flagJSON {
		return printJSON(counts)
	}

	ids := make([]string, 0, len(counts))
	var total int64
	for id, n := range counts {
		ids = append(ids, id)
		total += n
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})

	t := cli.Table{
		Title:   fmt.Sprintf("%s %s – %s", rt.cfg.CRM.TaggedText, start, end),
		Headers: []string{"Оператор", "Лиды"},
	}
	for _, id := range ids {
		name := dir.Name(id)
		if name == "" {
			name = id
		}
		t.Rows = append(t.Rows, []string{name, strconv.FormatInt(counts[id], 10)})
	}
	t.Rows = append(t.Rows, []string{"Итого", strconv.FormatInt(total, 10)})

	fmt.Println()
	fmt.Print(cli.RenderTable(t))
	fmt.Printf("  %d leads scanned\n\n", len(leads))
	return nil
}

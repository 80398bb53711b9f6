package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeepd/gatekeep/internal/model"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage game licenses",
		Long:  "Grant, suspend, and list the licenses that gate session issuance per game.",
	}

	cmd.AddCommand(newLicenseGrantCmd())
	cmd.AddCommand(newLicenseStatusCmd())
	cmd.AddCommand(newLicenseListCmd())

	return cmd
}

// ---------- license grant ----------

func newLicenseGrantCmd() *cobra.Command {
	var (
		tier     string
		internal bool
		expires  string
	)

	cmd := &cobra.Command{
		Use:   "grant <game>",
		Short: "Grant a license to a game",
		Long:  "Attach an active license to a game, referenced by universe ID, numeric ID, or name.",
		Example: `  gatekeep license grant 8421706401 --tier premium
  gatekeep license grant Blockworld --tier enterprise --internal
  gatekeep license grant 42 --tier standard --expires 2027-01-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseGrant(args[0], tier, internal, expires)
		},
	}

	cmd.Flags().StringVar(&tier, "tier", "free", "License tier: free, standard, premium, or enterprise")
	cmd.Flags().BoolVar(&internal, "internal", false, "Mark as internal (first-party) usage")
	cmd.Flags().StringVar(&expires, "expires", "", "Hard expiry date (YYYY-MM-DD), unset means perpetual")

	return cmd
}

func runLicenseGrant(gameRef, tier string, internal bool, expires string) error {
	t := model.Tier(tier)
	if !t.Valid() {
		return fmt.Errorf("unknown tier %q (want free, standard, premium, or enterprise)", tier)
	}

	var expiresAt *time.Time
	if expires != "" {
		parsed, err := time.Parse("2006-01-02", expires)
		if err != nil {
			return fmt.Errorf("invalid expiry %q, want YYYY-MM-DD: %w", expires, err)
		}
		expiresAt = &parsed
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	game, err := findGame(ctx, st, gameRef)
	if err != nil {
		return err
	}

	if existing, err := st.GetLicenseByGame(ctx, game.ID); err == nil {
		return fmt.Errorf("game %q already holds a %s license (status %s)", game.Name, existing.Tier, existing.Status)
	}

	lic := &model.License{
		GameID:     game.ID,
		Tier:       t,
		Status:     model.LicenseActive,
		IsInternal: internal,
		ExpiresAt:  expiresAt,
	}
	if err := st.CreateLicense(ctx, lic); err != nil {
		return fmt.Errorf("create license: %w", err)
	}

	fmt.Printf("Granted %s license to %q", tier, game.Name)
	if expiresAt != nil {
		fmt.Printf(" (expires %s)", expiresAt.Format("2006-01-02"))
	}
	fmt.Println()
	return nil
}

// ---------- license status ----------

func newLicenseStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <game> <active|suspended|expired>",
		Short: "Change a license's status",
		Long: `Transition a game's license between active, suspended, and expired.

Sessions already issued are unaffected; they ride out their own expiry.
New session issuance stops immediately.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseStatus(args[0], args[1])
		},
	}

	return cmd
}

func runLicenseStatus(gameRef, status string) error {
	switch status {
	case model.LicenseActive, model.LicenseSuspended, model.LicenseExpired:
	default:
		return fmt.Errorf("unknown status %q (want active, suspended, or expired)", status)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	game, err := findGame(ctx, st, gameRef)
	if err != nil {
		return err
	}

	if err := st.UpdateLicenseStatus(ctx, game.ID, status); err != nil {
		return fmt.Errorf("update license for %q: %w", game.Name, err)
	}

	fmt.Printf("License for %q is now %s\n", game.Name, status)
	return nil
}

// ---------- license list ----------

func newLicenseListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runLicenseList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	lics, err := st.ListLicenses(ctx)
	if err != nil {
		return fmt.Errorf("list licenses: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lics)
	}

	if len(lics) == 0 {
		fmt.Println("No licenses granted. Use 'gatekeep license grant' to grant one.")
		return nil
	}

	games, _ := st.ListGames(ctx)
	gameNames := make(map[int64]string, len(games))
	for _, g := range games {
		gameNames[g.ID] = g.Name
	}

	fmt.Printf("%-28s %-12s %-10s %-10s %-12s\n", "GAME", "TIER", "STATUS", "INTERNAL", "EXPIRES")
	fmt.Printf("%-28s %-12s %-10s %-10s %-12s\n", "----", "----", "------", "--------", "-------")
	for _, l := range lics {
		name := gameNames[l.GameID]
		if name == "" {
			name = fmt.Sprintf("game:%d", l.GameID)
		}
		internal := "no"
		if l.IsInternal {
			internal = "yes"
		}
		expires := "-"
		if l.ExpiresAt != nil {
			expires = l.ExpiresAt.Format("2006-01-02")
		}
		fmt.Printf("%-28s %-12s %-10s %-10s %-12s\n", name, l.Tier, l.Status, internal, expires)
	}

	return nil
}

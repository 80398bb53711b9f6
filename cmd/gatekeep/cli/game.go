package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeepd/gatekeep/internal/model"
)

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Manage tenant games",
		Long:  "Register and list the games that can hold licenses and API keys.",
	}

	cmd.AddCommand(newGameCreateCmd())
	cmd.AddCommand(newGameListCmd())

	return cmd
}

// ---------- game create ----------

func newGameCreateCmd() *cobra.Command {
	var (
		name     string
		universe string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new game",
		Example: `  gatekeep game create --name "Blockworld" --universe 8421706401
  gatekeep game create --name "Speed Run 4" --universe 299393935`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameCreate(name, universe)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the game (required)")
	cmd.Flags().StringVar(&universe, "universe", "", "Platform universe ID the game's servers present (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("universe")

	return cmd
}

func runGameCreate(name, universe string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if existing, err := st.GetGameByUniverse(ctx, universe); err == nil {
		return fmt.Errorf("universe %q is already registered to game %q (id %d)", universe, existing.Name, existing.ID)
	}

	game := &model.Game{Name: name, UniverseID: universe}
	if err := st.CreateGame(ctx, game); err != nil {
		return fmt.Errorf("create game: %w", err)
	}

	fmt.Printf("Created game %q (id %d, universe %s)\n", name, game.ID, universe)
	fmt.Println("Next: grant a license with 'gatekeep license grant' and mint a key with 'gatekeep key create'.")
	return nil
}

// ---------- game list ----------

func newGameListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all registered games",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runGameList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	games, err := st.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(games)
	}

	if len(games) == 0 {
		fmt.Println("No games registered. Use 'gatekeep game create' to register one.")
		return nil
	}

	// Show the license tier alongside each game where one exists.
	fmt.Printf("%-6s %-28s %-16s %-10s\n", "ID", "NAME", "UNIVERSE", "TIER")
	fmt.Printf("%-6s %-28s %-16s %-10s\n", "--", "----", "--------", "----")
	for i := range games {
		tier := "-"
		if lic, err := st.GetLicenseByGame(ctx, games[i].ID); err == nil {
			tier = string(lic.Tier)
			if lic.Status != model.LicenseActive {
				tier += " (" + lic.Status + ")"
			}
		}
		fmt.Printf("%-6d %-28s %-16s %-10s\n", games[i].ID, games[i].Name, games[i].UniverseID, tier)
	}

	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatekeepd/gatekeep/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the long-lived API keys game servers exchange for sessions.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		game  string
		label string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key bound to a game. The raw key is shown once and cannot be retrieved again.",
		Example: `  gatekeep key create --game 8421706401 --label "production fleet"
  gatekeep key create --game Blockworld`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(game, label)
		},
	}

	cmd.Flags().StringVar(&game, "game", "", "Game to bind the key to: universe ID, numeric ID, or name (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.MarkFlagRequired("game")

	return cmd
}

func runKeyCreate(gameRef, label string) error {
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

	rawKey, _, err := mintAPIKey(ctx, st, game.ID, label)
	if err != nil {
		return err
	}

	fmt.Println("API Key created:")
	fmt.Println()
	fmt.Printf("  Key:  %s\n", rawKey)
	fmt.Printf("  Game: %s (universe %s)\n", game.Name, game.UniverseID)
	if label != "" {
		fmt.Printf("  Label: %s\n", label)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	games, err := st.ListGames(ctx)
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	gameNames := make(map[int64]string, len(games))
	for _, g := range games {
		gameNames[g.ID] = g.Name
	}

	type keyRow struct {
		Prefix   string `json:"prefix"`
		Game     string `json:"game"`
		Label    string `json:"label"`
		Active   bool   `json:"active"`
		LastUsed string `json:"last_used,omitempty"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		gn := gameNames[k.GameID]
		if gn == "" {
			gn = fmt.Sprintf("game:%d", k.GameID)
		}
		lastUsed := ""
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format("2006-01-02 15:04")
		}
		rows[i] = keyRow{
			Prefix:   k.KeyPrefix,
			Game:     gn,
			Label:    k.Label,
			Active:   k.IsActive,
			LastUsed: lastUsed,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys configured. Use 'gatekeep key create' to create one.")
		return nil
	}

	fmt.Printf("%-18s %-20s %-24s %-8s %-18s\n", "PREFIX", "GAME", "LABEL", "ACTIVE", "LAST USED")
	fmt.Printf("%-18s %-20s %-24s %-8s %-18s\n", "------", "----", "-----", "------", "---------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		lastUsed := k.LastUsed
		if lastUsed == "" {
			lastUsed = "-"
		}
		fmt.Printf("%-18s %-20s %-24s %-8s %-18s\n", k.Prefix, k.Game, k.Label, active, lastUsed)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API key by its prefix",
		Long: `Deactivate an API key. New session issuance with the key stops immediately;
sessions already minted from it stay valid until they expire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	var matched *model.APIKey
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, prefix) {
			if matched != nil {
				return fmt.Errorf("prefix %q is ambiguous, matches %q and %q", prefix, matched.KeyPrefix, keys[i].KeyPrefix)
			}
			matched = &keys[i]
		}
	}
	if matched == nil {
		return fmt.Errorf("no API key found with prefix %q", prefix)
	}

	if err := st.RevokeAPIKey(ctx, matched.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key with prefix %q\n", matched.KeyPrefix)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// GATEKEEP_DATA_DIR env var, or ~/.gatekeep as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("GATEKEEP_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.gatekeep"
}

// openStore opens the credential store using the configured driver. The
// provisioning commands and the server share this path, so a key minted on
// the CLI works against the running gateway.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	if driver == "" {
		driver = store.DriverSQLite
	}
	dsn := viper.GetString("store.dsn")
	if driver == store.DriverSQLite && dsn == "" {
		dsn = resolveDataDir()
	}
	return store.New(driver, dsn)
}

// mintAPIKey generates a fresh raw API key and its storable row for a game.
// The raw key is returned for one-time display and never persisted.
func mintAPIKey(ctx context.Context, st *store.Store, gameID int64, label string) (string, *model.APIKey, error) {
	minted, err := token.NewAPIKey()
	if err != nil {
		return "", nil, err
	}

	key := &model.APIKey{
		KeyHash:   minted.Hash,
		KeyPrefix: minted.Prefix,
		Label:     label,
		GameID:    gameID,
		IsActive:  true,
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return minted.Raw, key, nil
}

// findGame resolves a game by universe ID or numeric ID string.
func findGame(ctx context.Context, st *store.Store, ref string) (*model.Game, error) {
	if game, err := st.GetGameByUniverse(ctx, ref); err == nil {
		return game, nil
	}
	games, err := st.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	for i := range games {
		if fmt.Sprintf("%d", games[i].ID) == ref || games[i].Name == ref {
			return &games[i], nil
		}
	}
	return nil, fmt.Errorf("no game matches %q (tried universe ID, numeric ID, and name)", ref)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// seedFile is the declarative provisioning format consumed by
// `gatekeep provision -f`. Everything in it is created if absent and
// skipped if already present, so the file can be re-applied safely.
type seedFile struct {
	Admins []seedAdmin `yaml:"admins"`
	Games  []seedGame  `yaml:"games"`
}

type seedAdmin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type seedGame struct {
	Name     string       `yaml:"name"`
	Universe string       `yaml:"universe"`
	License  *seedLicense `yaml:"license"`
	Keys     []seedKey    `yaml:"keys"`
}

type seedLicense struct {
	Tier     string `yaml:"tier"`
	Internal bool   `yaml:"internal"`
	Expires  string `yaml:"expires"` // YYYY-MM-DD, empty means perpetual
}

type seedKey struct {
	Label string `yaml:"label"`
}

func newProvisionCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Apply a declarative seed file",
		Long: `Provision games, licenses, API keys, and operator accounts from a YAML file.

Existing objects are skipped, so the same file can be applied repeatedly.
Freshly minted API keys are printed once; they cannot be retrieved again.`,
		Example: `  gatekeep provision -f seed.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed file to apply (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runProvision(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	for _, a := range seed.Admins {
		if a.Email == "" || a.Password == "" {
			return fmt.Errorf("admin entry needs both email and password")
		}
		if _, err := st.GetAdminByEmail(ctx, a.Email); err == nil {
			fmt.Printf("admin %s: exists, skipped\n", a.Email)
			continue
		}
		admin := &model.Admin{
			Email:        a.Email,
			PasswordHash: token.HashKey(a.Password),
			Name:         a.Name,
			IsActive:     true,
			IsSuperAdmin: true,
		}
		if err := st.CreateAdmin(ctx, admin); err != nil {
			return fmt.Errorf("create admin %s: %w", a.Email, err)
		}
		fmt.Printf("admin %s: created\n", a.Email)
	}

	for _, g := range seed.Games {
		if g.Name == "" || g.Universe == "" {
			return fmt.Errorf("game entry needs both name and universe")
		}

		game, err := st.GetGameByUniverse(ctx, g.Universe)
		if err != nil {
			game = &model.Game{Name: g.Name, UniverseID: g.Universe}
			if err := st.CreateGame(ctx, game); err != nil {
				return fmt.Errorf("create game %s: %w", g.Name, err)
			}
			fmt.Printf("game %s: created (universe %s)\n", g.Name, g.Universe)
		} else {
			fmt.Printf("game %s: exists, skipped\n", g.Name)
		}

		if g.License != nil {
			if _, err := st.GetLicenseByGame(ctx, game.ID); err == nil {
				fmt.Printf("  license: exists, skipped\n")
			} else {
				tier := model.Tier(g.License.Tier)
				if !tier.Valid() {
					return fmt.Errorf("game %s: unknown tier %q", g.Name, g.License.Tier)
				}
				var expiresAt *time.Time
				if g.License.Expires != "" {
					parsed, err := time.Parse("2006-01-02", g.License.Expires)
					if err != nil {
						return fmt.Errorf("game %s: invalid license expiry %q: %w", g.Name, g.License.Expires, err)
					}
					expiresAt = &parsed
				}
				lic := &model.License{
					GameID:     game.ID,
					Tier:       tier,
					Status:     model.LicenseActive,
					IsInternal: g.License.Internal,
					ExpiresAt:  expiresAt,
				}
				if err := st.CreateLicense(ctx, lic); err != nil {
					return fmt.Errorf("create license for %s: %w", g.Name, err)
				}
				fmt.Printf("  license: granted (%s)\n", tier)
			}
		}

		existingKeys, err := st.ListAPIKeys(ctx)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		for _, k := range g.Keys {
			if k.Label != "" && hasKeyWithLabel(existingKeys, game.ID, k.Label) {
				fmt.Printf("  key %s: exists, skipped\n", k.Label)
				continue
			}
			rawKey, _, err := mintAPIKey(ctx, st, game.ID, k.Label)
			if err != nil {
				return fmt.Errorf("create key for %s: %w", g.Name, err)
			}
			label := k.Label
			if label == "" {
				label = "(no label)"
			}
			fmt.Printf("  key %s: %s\n", label, rawKey)
		}
	}

	fmt.Println("Provisioning complete.")
	return nil
}

func hasKeyWithLabel(keys []model.APIKey, gameID int64, label string) bool {
	for i := range keys {
		if keys[i].GameID == gameID && keys[i].Label == label && keys[i].IsActive {
			return true
		}
	}
	return false
}

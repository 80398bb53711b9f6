package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/token"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operator accounts",
		Long:  "Create and list the operators who can manage the gateway through the system API.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operator account",
		Example: `  gatekeep admin create --email admin@example.com --password secret
  gatekeep admin create --email admin@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(email, password, name)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Operator email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Operator password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Operator display name")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runAdminCreate(email, password, name string) error {
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}

	// Prompt for password if not provided
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if _, err := st.GetAdminByEmail(ctx, email); err == nil {
		return fmt.Errorf("operator %q already exists", email)
	}

	admin := &model.Admin{
		Email:        email,
		PasswordHash: token.HashKey(password),
		Name:         name,
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := st.CreateAdmin(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Printf("Created operator account %q\n", email)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	admins, err := st.ListAdmins(context.Background())
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}

	type adminRow struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		Active    bool   `json:"active"`
		LastLogin string `json:"last_login,omitempty"`
	}

	rows := make([]adminRow, len(admins))
	for i, a := range admins {
		lastLogin := ""
		if a.LastLoginAt != nil {
			lastLogin = a.LastLoginAt.Format("2006-01-02 15:04")
		}
		rows[i] = adminRow{
			Email:     a.Email,
			Name:      a.Name,
			Active:    a.IsActive,
			LastLogin: lastLogin,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No operator accounts configured. Use 'gatekeep admin create' to create one.")
		return nil
	}

	fmt.Printf("%-30s %-24s %-8s %-18s\n", "EMAIL", "NAME", "ACTIVE", "LAST LOGIN")
	fmt.Printf("%-30s %-24s %-8s %-18s\n", "-----", "----", "------", "----------")
	for _, a := range rows {
		active := "yes"
		if !a.Active {
			active = "no"
		}
		lastLogin := a.LastLogin
		if lastLogin == "" {
			lastLogin = "-"
		}
		fmt.Printf("%-30s %-24s %-8s %-18s\n", a.Email, a.Name, active, lastLogin)
	}

	return nil
}

// Command admin manages the TreeTrack database schema and administrator accounts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/core"
)

const envAdminPassword = "TREETRACK_ADMIN_PASSWORD"

type databaseFlags struct {
	databaseType     string
	connectionString string
}

func (f *databaseFlags) open() (database.DatabaseService, error) {
	connectionString := f.connectionString
	if connectionString == "" {
		connectionString = os.Getenv(core.EnvDatabaseURL)
	}
	if connectionString == "" {
		return nil, fmt.Errorf("no database connection string, use --database or %s", core.EnvDatabaseURL)
	}
	return database.NewDatabase(f.databaseType, connectionString)
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	flags := &databaseFlags{}
	rootCmd := &cobra.Command{
		Use:          "admin",
		Short:        "Manage the TreeTrack database and administrators",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.databaseType, "database-type", "sqlite", "database type (sqlite or postgres)")
	rootCmd.PersistentFlags().StringVar(&flags.connectionString, "database", "", "database connection string")

	rootCmd.AddCommand(schemaCommand(flags))
	rootCmd.AddCommand(adminCommand(flags))
	return rootCmd
}

func schemaCommand(flags *databaseFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the database tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := flags.open()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func adminCommand(flags *databaseFlags) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Commands related to administrator accounts",
	}
	adminCmd.AddCommand(addAdminCommand(flags))
	adminCmd.AddCommand(listAdminsCommand(flags))
	return adminCmd
}

func addAdminCommand(flags *databaseFlags) *cobra.Command {
	var admin database.NewAdministrator
	var password string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(envAdminPassword)
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			admin.PasswordHash = hash

			db, err := flags.open()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			id, err := db.InsertAdministrator(cmd.Context(), admin)
			if err != nil {
				return fmt.Errorf("failed to add administrator: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added administrator %s (%s)\n", admin.Email, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&admin.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&admin.Email, "email", "", "sign-in email")
	cmd.Flags().StringVar(&password, "password", "", "password, defaults to $"+envAdminPassword)
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func listAdminsCommand(flags *databaseFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List administrator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := flags.open()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			admins, err := db.ListAdministrators(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list administrators: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(admins) == 0 {
				fmt.Fprintln(out, "no administrators")
				return nil
			}
			for _, a := range admins {
				fmt.Fprintf(out, "%s\t%s\t%s\tedits=%d\n", a.ID, a.FullName(), a.Email, a.Edits)
			}
			return nil
		},
	}
}

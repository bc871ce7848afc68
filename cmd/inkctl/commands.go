package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"inkwell/internal/authpw"
	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/store"
)

var (
	rollbackSteps int
	userEmail     string
	userPassword  string

	rootCmd = &cobra.Command{
		Use:          "inkctl",
		Short:        "Operator tooling for the Inkwell API",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			logger = logging.New(cfg.LogLevel, "console", cmd.ErrOrStderr())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE:  runMigrateDown,
	}
	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE:  runMigrateVersion,
	}

	usersCmd = &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}
	usersCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create an account with a password",
		RunE:  runUsersCreate,
	}

	tokensCmd = &cobra.Command{
		Use:   "tokens",
		Short: "Maintain password reset tokens",
	}
	tokensPurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete expired password reset tokens",
		RunE:  runTokensPurge,
	}
)

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "account email")
	usersCreateCmd.Flags().StringVar(&userPassword, "password", "", "account password")
	_ = usersCreateCmd.MarkFlagRequired("email")
	_ = usersCreateCmd.MarkFlagRequired("password")
	usersCmd.AddCommand(usersCreateCmd)

	tokensCmd.AddCommand(tokensPurgeCmd)

	rootCmd.AddCommand(migrateCmd, usersCmd, tokensCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	logger.Info().Msg("migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	if rollbackSteps <= 0 {
		return fmt.Errorf("--steps must be positive, got %d", rollbackSteps)
	}
	if err := store.RollbackMigrations(cfg.DatabaseURL, rollbackSteps); err != nil {
		return err
	}
	logger.Info().Int("steps", rollbackSteps).Msg("migrations rolled back")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	version, dirty, err := store.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
	return nil
}

func openStore(ctx context.Context) (*store.PostgresStore, *sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(db), db, nil
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	st, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := authpw.NewService(st, nil, cfg.PublicBaseURL).Register(ctx, authpw.RegisterRequest{
		Email:    userEmail,
		Password: userPassword,
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		return fmt.Errorf("an account for %s already exists", userEmail)
	}
	if err != nil {
		return err
	}
	logger.Info().Str("id", user.ID).Str("email", user.Email).Msg("user created")
	return nil
}

func runTokensPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	st, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	purged, err := st.PurgeExpiredResetTokens(ctx, time.Now())
	if err != nil {
		return err
	}
	logger.Info().Int64("purged", purged).Msg("expired reset tokens removed")
	return nil
}

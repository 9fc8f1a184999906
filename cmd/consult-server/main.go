package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vivamoms/consult/internal/config"
	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/domain/identity"
	"github.com/vivamoms/consult/internal/platform/audit"
	"github.com/vivamoms/consult/internal/platform/db"
	"github.com/vivamoms/consult/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-server",
		Short: "Remote consultation API for community health workers and doctors",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, newLogger(cfg))
		},
	}
}

// withPool loads config and opens a pool for the short-lived commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				migrator := db.NewMigrator(pool, migrations.FS)
				fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
				count, err := migrator.Up(ctx, cfg.DBSchema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, cfg.DBSchema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", cfg.DBSchema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user without an authenticated caller (bootstrap the first admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				sink := audit.Multi{audit.NewPGSink(pool), audit.NewLogSink(newLogger(cfg))}
				svc := identity.NewService(identity.NewRepo(pool), db.NewTransactor(pool), sink)
				u, err := svc.Bootstrap(ctx, identity.CreateInput{Email: email, Name: name, Role: access.Role(role)})
				if err != nil {
					return err
				}
				fmt.Printf("Created %s %s (%s)\n", u.Role, u.ID, u.Email)
				return nil
			})
		},
	}
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("role", string(access.RoleAdmin), "Role: chw, doctor or admin")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("name")

	cmd.AddCommand(createCmd)
	return cmd
}

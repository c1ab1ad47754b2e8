package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orsched/orsched/internal/config"
	"github.com/orsched/orsched/internal/domain/priority"
	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/internal/platform/db"
	"github.com/orsched/orsched/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func priorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority",
		Short: "Inspect department priority tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse a priority table and print the weekly labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkPriorities(cmd.OutOrStdout(), args[0])
		},
	})
	return cmd
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func checkPriorities(w io.Writer, path string) error {
	table, err := priority.Load(path)
	if err != nil {
		return err
	}
	depts := table.Departments()
	if len(depts) == 0 {
		return fmt.Errorf("%s: no departments defined", path)
	}
	for _, dept := range depts {
		week := table.Week(dept)
		fmt.Fprintf(w, "%s\n", dept)
		for _, day := range weekdays {
			if label, ok := week[day]; ok {
				fmt.Fprintf(w, "  %-10s %s\n", day, label)
			}
		}
	}
	fmt.Fprintf(w, "%d department(s) OK\n", len(depts))
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			dept, _ := cmd.Flags().GetString("department")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			secret, _ := cmd.Flags().GetString("secret")
			issuer, _ := cmd.Flags().GetString("issuer")

			if err := validRoles(roles); err != nil {
				return err
			}
			tok, err := auth.IssueToken(auth.JWTConfig{Issuer: issuer, SigningKey: []byte(secret)},
				auth.Actor{ID: sub, Roles: roles, Department: strings.ToUpper(dept)}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "User identifier (required)")
	cmd.Flags().StringSlice("roles", []string{auth.RoleStaff}, "Comma separated roles")
	cmd.Flags().String("department", "", "Department code")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().String("issuer", envOr("JWT_ISSUER", "orsched"), "Token issuer")
	return cmd
}

func validRoles(roles []string) error {
	for _, r := range roles {
		switch r {
		case auth.RoleAdmin, auth.RoleAnesthesiaAdmin, auth.RoleNurse, auth.RoleStaff:
		default:
			return fmt.Errorf("unknown role %q", r)
		}
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

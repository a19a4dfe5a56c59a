package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"sigep.org/internal/auth"
	"sigep.org/internal/config"
	"sigep.org/internal/migrate"
	"sigep.org/internal/obs"
	"sigep.org/internal/store/pg"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if _, err := obs.Setup(cfg.App.Env, cfg.App.LogLevel); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = obs.Logger().Sync() }()

	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "migrate",
		Usage: "Apply sigep schema migrations and seeds",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Value: cfg.Postgres.DSN, Usage: "PostgreSQL DSN", Sources: cli.EnvVars("SIGEP_POSTGRES_DSN")},
			&cli.StringFlag{Name: "migrations", Usage: "directory overriding the embedded migrations"},
			&cli.StringFlag{Name: "seeds", Usage: "directory overriding the embedded seeds"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply pending migrations",
				Action: withManager(func(ctx context.Context, m *migrate.Manager, _ *cli.Command) error {
					ran, err := m.Up(ctx)
					report("applied", ran)
					return err
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Action: withManager(func(ctx context.Context, m *migrate.Manager, _ *cli.Command) error {
					name, err := m.Down(ctx)
					if errors.Is(err, migrate.ErrNothingApplied) {
						fmt.Println("nothing to roll back")
						return nil
					}
					if err == nil {
						fmt.Printf("rolled back %s\n", name)
					}
					return err
				}),
			},
			{
				Name:  "seed",
				Usage: "Apply pending seed files",
				Action: withManager(func(ctx context.Context, m *migrate.Manager, _ *cli.Command) error {
					ran, err := m.Seed(ctx)
					report("seeded", ran)
					return err
				}),
			},
			{
				Name:  "status",
				Usage: "List migrations and whether they are applied",
				Action: withManager(func(ctx context.Context, m *migrate.Manager, _ *cli.Command) error {
					entries, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, e := range entries {
						if e.Applied {
							fmt.Printf("applied  %s  %s\n", e.AppliedAt.Format(time.RFC3339), e.Name)
						} else {
							fmt.Printf("pending  %-20s  %s\n", "", e.Name)
						}
					}
					return nil
				}),
			},
			adminCommand(cfg.Auth.AdminRole),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		obs.Logger().Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}
}

type managerAction func(ctx context.Context, m *migrate.Manager, c *cli.Command) error

func withManager(fn managerAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		store, err := openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()

		migrations, seeds := migrate.Embedded()
		if dir := c.String("migrations"); dir != "" {
			migrations = os.DirFS(dir)
		}
		if dir := c.String("seeds"); dir != "" {
			seeds = os.DirFS(dir)
		}
		ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
		defer cancel()
		return fn(ctx, migrate.NewManager(store.DB(), migrations, seeds), c)
	}
}

func openStore(c *cli.Command) (*pg.Store, error) {
	dsn := strings.TrimSpace(c.String("dsn"))
	if dsn == "" {
		return nil, errors.New("missing DSN: pass --dsn or set SIGEP_POSTGRES_DSN")
	}
	return pg.Open(dsn, pg.Pool{MaxOpenConns: 2})
}

// adminCommand creates a user holding the admin role, for the first login on an empty database.
func adminCommand(defaultRole string) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Create an administrator account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, Sources: cli.EnvVars("SIGEP_ADMIN_PASSWORD")},
			&cli.StringFlag{Name: "nombre", Value: "Administrador"},
			&cli.StringFlag{Name: "role", Value: defaultRole},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
			defer cancel()

			email := strings.TrimSpace(c.String("email"))
			hash, err := auth.HashPassword(c.String("password"))
			if err != nil {
				return err
			}
			_, err = store.Insert(ctx, "usuario", map[string]any{"email": email, "nombre": c.String("nombre"), "clave": hash})
			switch {
			case errors.Is(err, pg.ErrConflict):
				fmt.Printf("user %s already exists, granting role only\n", email)
			case err != nil:
				return fmt.Errorf("create user: %w", err)
			}

			roles, err := store.List(ctx, "rol", map[string]string{"nombre": c.String("role")})
			if err != nil {
				return fmt.Errorf("find role: %w", err)
			}
			if len(roles) == 0 {
				return fmt.Errorf("role %q does not exist, run seed first", c.String("role"))
			}
			_, err = store.Insert(ctx, "usuario_rol", map[string]any{"email": email, "rol_id": roles[0].AuditID()})
			if err != nil && !errors.Is(err, pg.ErrConflict) {
				return fmt.Errorf("grant role: %w", err)
			}
			fmt.Printf("%s holds role %s\n", email, c.String("role"))
			return nil
		},
	}
}

func report(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing to do")
		return
	}
	for _, n := range names {
		fmt.Printf("%s %s\n", verb, n)
	}
}


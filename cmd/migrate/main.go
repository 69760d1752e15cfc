package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/migrate"
	"rusunawa.app/internal/store"
	"rusunawa.app/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	var (
		dsn            = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Path to SQL migrations (embedded when empty)")
		seedsPath      = flag.String("seeds", "", "Path to SQL seeds (embedded when empty)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	migrations, seeds := migrate.Embedded()
	if *migrationsPath != "" {
		migrations = os.DirFS(*migrationsPath)
	}
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(st.DB(), migrate.Postgres, migrations, seeds)

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			names = []string{name}
		}
	case "seed":
		names, err = seed(ctx, mgr, st)
	case "status":
		names, err = mgr.Status(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

// seed applies the SQL seeds, then creates the builtin roles, permissions
// and, when SEED_SUPERADMIN_EMAIL and SEED_SUPERADMIN_PASSWORD are set, the
// superadmin account.
func seed(ctx context.Context, mgr *migrate.Manager, st *store.Store) ([]string, error) {
	applied, err := mgr.Seed(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := auth.NewResolver(st)
	if err != nil {
		return nil, err
	}
	rbac, err := auth.NewRBACService(st, resolver)
	if err != nil {
		return nil, err
	}
	return applied, rbac.EnsureBuiltins(ctx, bootstrapAdmin())
}

func bootstrapAdmin() *auth.BootstrapAdmin {
	email := os.Getenv("SEED_SUPERADMIN_EMAIL")
	password := os.Getenv("SEED_SUPERADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	username := os.Getenv("SEED_SUPERADMIN_USERNAME")
	if username == "" {
		username = "superadmin"
	}
	return &auth.BootstrapAdmin{Username: username, Email: email, Password: password}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"parceltrack.org/internal/migrate"
	"parceltrack.org/internal/obs"
	"parceltrack.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	var (
		driver = flag.String("driver", envOr("DATABASE_DRIVER", "sqlite"), "Database driver: sqlite or postgres")
		dsn    = flag.String("dsn", envOr("DATABASE_URL", "data.sqlite"), "Database DSN (file path for sqlite)")
		level  = flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}
	if logger, err := obs.NewLogger(*level); err == nil {
		obs.SetLogger(logger)
		defer func() { _ = logger.Sync() }()
	}

	dialect, err := migrate.ParseDialect(*driver)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := sqlstore.Open(dialect, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	mgr := migrate.NewManager(st.DB(), dialect)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

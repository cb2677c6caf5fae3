package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/allprecisely/Ad-parser/migrations"
)

func main() {
	dbPath := flag.String("db", defaultDBPath(), "sqlite database file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Manages the ad watcher database schema. The watcher applies pending")
	fmt.Fprintln(os.Stderr, "migrations on startup; this tool is for inspecting and rolling back.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  up        apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  up-one    apply the next pending migration")
	fmt.Fprintln(os.Stderr, "  down      roll back the last applied migration")
	fmt.Fprintln(os.Stderr, "  status    show applied and pending migrations")
	fmt.Fprintln(os.Stderr, "  version   show the current schema version")
	fmt.Fprintln(os.Stderr, "  reset     roll back all migrations")
}

func defaultDBPath() string {
	if v := os.Getenv("ADWATCH_DATABASE_PATH"); v != "" {
		return v
	}
	return "./data/adwatch.db"
}

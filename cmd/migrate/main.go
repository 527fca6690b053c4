package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	internaldb "github.com/gridsettle/clearing-service/internal/db"
)

const dialect = "postgres"

// sourceDir is where `migrate create` writes new migration files. Every
// other command runs against the migrations embedded in the binary, so
// the deployed image needs no migration files on disk.
const sourceDir = "internal/db/migrations"

func main() {
	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	flags.Usage = usage
	flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		return
	}
	command := args[0]

	if err := goose.SetDialect(dialect); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	// create needs a writable directory; it never touches the database.
	if command == "create" {
		if err := goose.Run(command, nil, sourceDir, args[1:]...); err != nil {
			log.Fatalf("goose create: %v", err)
		}
		return
	}

	goose.SetBaseFS(internaldb.Migrations)

	db, err := sql.Open("pgx", ledgerDSN())
	if err != nil {
		log.Fatalf("open ledger database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to ledger database: %v", err)
	}

	if err := goose.Run(command, db, "migrations", args[1:]...); err != nil {
		log.Fatalf("goose %v: %v", command, err)
	}
}

// ledgerDSN builds the connection string from the same environment
// variables the server reads, with local-development defaults.
func ledgerDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "clearing_service"),
		getEnv("DB_SSL_MODE", "disable"),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func usage() {
	fmt.Print(`Usage: migrate COMMAND

Runs the embedded schema migrations against the ledger database configured
via DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and DB_SSL_MODE.

Commands:
    up                   Migrate the DB to the most recent version available
    up-by-one            Migrate the DB up by 1
    up-to VERSION        Migrate the DB to a specific VERSION
    down                 Roll back the version by 1
    down-to VERSION      Roll back to a specific VERSION
    redo                 Re-run the latest migration
    status               Dump the migration status for the current DB
    version              Print the current version of the database
    create NAME [sql|go] Creates a new migration file under ` + sourceDir + `

Examples:
    migrate up
    migrate status
    migrate create add_invoices_table sql
`)
}

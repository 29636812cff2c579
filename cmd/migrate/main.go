package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	"chatstream/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// Provisions a chatstream database ahead of first server start, so the
// server process does not need write access to create the file itself.
func main() {
	dbPath := flag.String("db", "./chatstream.db", "Path to the database file")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 1").Scan(&count); err != nil {
		log.Fatalf("Failed to check migration status: %v", err)
	}
	if count > 0 {
		fmt.Println("Schema already applied, nothing to do")
		return
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (1)"); err != nil {
		log.Fatalf("Failed to record migration: %v", err)
	}

	fmt.Printf("Initialized %s\n", *dbPath)
}

// Applies the SQL files under migrations/ in lexical order, one transaction
// per file. Applied files are recorded in schema_migrations and skipped on
// subsequent runs; --force reapplies everything (the statements are
// idempotent, IF NOT EXISTS).
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	force := false
	for _, a := range os.Args[1:] {
		switch a {
		case "--list":
			listOnly = true
		case "--force":
			force = true
		default:
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		listTables(db)
		return
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("ensure schema_migrations: %v", err)
	}
	applied := appliedMigrations(db)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var okCount, skipCount, errCount int
	for _, f := range files {
		if applied[f] && !force {
			skipCount++
			continue
		}
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Printf("  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Printf("BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Printf("ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`, f); err != nil {
			tx.Rollback()
			fmt.Printf("LEDGER ERROR: %v\n", err)
			errCount++
			continue
		}
		tx.Commit()
		fmt.Println("OK")
		okCount++
	}
	log.Printf("Done: %d OK, %d skipped, %d errors", okCount, skipCount, errCount)
}

func appliedMigrations(db *sql.DB) map[string]bool {
	rows, err := db.Query("SELECT filename FROM schema_migrations")
	if err != nil {
		log.Fatalf("read schema_migrations: %v", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var f string
		rows.Scan(&f)
		applied[f] = true
	}
	return applied
}

// listTables prints the sync schema with row counts so a deploy can be
// eyeballed quickly.
func listTables(db *sql.DB) {
	tables := []string{
		"members", "products", "enrollments", "reengagement_levels",
		"engagement_states", "communication_log", "pipeline_executions",
		"schema_migrations",
	}
	for _, t := range tables {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			fmt.Printf("  %-22s MISSING (%v)\n", t, err)
			continue
		}
		fmt.Printf("  %-22s %d rows\n", t, n)
	}
}

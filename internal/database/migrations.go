package database

import (
	"bufio"
	"embed"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	migrationNamePattern = regexp.MustCompile(`^(\d{8})_.+\.sql$`)
	requiresTablePattern = regexp.MustCompile(`^--\s*requires-table:\s*(\w+)\s*$`)
)

// migration represents a database migration
type migration struct {
	filename string
	name     string
	sql      string
	requires []string // tables that must exist before the SQL can run
}

// RunMigrations runs all pending SQL migrations. They run after AutoMigrate
// and hold the changes GORM tags cannot express, such as extra indexes.
func RunMigrations(db *gorm.DB) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := getMigrations()
	if err != nil {
		return fmt.Errorf("failed to get migrations: %w", err)
	}

	applied, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}

		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.filename, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations table if it doesn't exist
func createMigrationsTable(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`).Error
}

// getMigrations reads all migration files from the migrations directory
func getMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := migrationsFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, parseMigration(entry.Name(), string(content)))
	}

	// Sort migrations by name (date) to ensure order
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].name < migrations[j].name
	})

	return migrations, nil
}

func parseMigration(filename, content string) migration {
	m := migration{
		filename: filename,
		name:     extractMigrationName(filename),
		sql:      content,
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "--") {
			break
		}
		if matches := requiresTablePattern.FindStringSubmatch(line); len(matches) > 1 {
			m.requires = append(m.requires, matches[1])
		}
	}

	return m
}

// extractMigrationName extracts the migration name from filename
// Expected format: YYYYMMDD_description.sql
func extractMigrationName(filename string) string {
	matches := migrationNamePattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return filename
	}
	return matches[1]
}

// getAppliedMigrations returns a map of already applied migration names
func getAppliedMigrations(db *gorm.DB) (map[string]bool, error) {
	var names []string
	if err := db.Table("schema_migrations").Pluck("name", &names).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(names))
	for _, name := range names {
		applied[name] = true
	}

	return applied, nil
}

// applyMigration runs a single migration and records it
func applyMigration(db *gorm.DB, m migration) error {
	if err := checkMigrationPrerequisites(db, m); err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range splitStatements(m.sql) {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", m.name).Error
	})
}

// splitStatements splits a migration into single statements so every driver
// runs all of them. Migrations must not contain semicolons inside literals.
func splitStatements(sql string) []string {
	var stmts []string
	for _, part := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// checkMigrationPrerequisites fails when a table named in a
// "-- requires-table:" header does not exist
func checkMigrationPrerequisites(db *gorm.DB, m migration) error {
	for _, table := range m.requires {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("migration %s requires table %s", m.filename, table)
		}
	}
	return nil
}

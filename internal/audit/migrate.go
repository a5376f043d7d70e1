package audit

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies the audit schema migrations from sourceDir (a
// file:// URL) against databaseURL. An up-to-date schema is not an error.
func RunMigrations(sourceDir, databaseURL string) error {
	m, err := migrate.New(sourceDir, databaseURL)
	if err != nil {
		return fmt.Errorf("audit: open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: apply migrations: %w", err)
	}
	return nil
}

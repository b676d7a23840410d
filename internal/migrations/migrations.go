// Package migrations holds the schema of the order store (Postgres) and the catalog (MySQL).
package migrations

import (
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// UpOrders migrates the order store. dsn is a postgres:// url.
func UpOrders(dsn string) error {
	return up("postgres", pgxURL(dsn))
}

// UpCatalog migrates the catalog. dsn is a go-sql-driver/mysql dsn.
func UpCatalog(dsn string) error {
	return up("mysql", "mysql://"+dsn)
}

func up(dir, url string) error {
	src, err := iofs.New(files, dir)
	if err != nil {
		return errors.Wrapf(err, "open %s migrations", dir)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return errors.Wrapf(err, "init %s migrations", dir)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.WithFields(log.Fields{"source": srcErr, "db": dbErr}).Warn("close migrations")
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrapf(err, "apply %s migrations", dir)
	}
	version, dirty, _ := m.Version()
	log.WithFields(log.Fields{"schema": dir, "version": version, "dirty": dirty}).Info("migrations applied")
	return nil
}

func pgxURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

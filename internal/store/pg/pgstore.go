package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/store"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Dialect runs the shared queries unchanged and maps pgconn error codes.
var Dialect = store.Dialect{
	Name:     "postgres",
	Classify: classify,
}

// Open connects to PostgreSQL through the pgx stdlib driver.
func Open(dsn string) (*store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return store.New(db, Dialect), nil
}

func classify(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", auth.ErrConflict, constraintMessage(pgErr))
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: %s", auth.ErrNotFound, constraintMessage(pgErr))
	}
	return err
}

func constraintMessage(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName + " violated"
	}
	return pgErr.Message
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

package health

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Drivers for the database service types the ping probe supports.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/servicedef"
)

// SQLPinger is the interface for pinging a database.
type SQLPinger interface {
	PingContext(ctx context.Context) error
	Close() error
}

// SQLProber health-checks database credentials by opening a connection
// with the credential's DSN and pinging it.
type SQLProber struct {
	timeout time.Duration

	// open is swappable for tests (sqlmock).
	open func(driver, dsn string) (SQLPinger, error)
}

// NewSQLProber creates the SQL ping probe.
func NewSQLProber(timeout time.Duration) *SQLProber {
	return &SQLProber{
		timeout: timeout,
		open: func(driver, dsn string) (SQLPinger, error) {
			return sql.Open(driver, dsn)
		},
	}
}

// SetOpener sets a custom connection opener for testing.
func (p *SQLProber) SetOpener(open func(driver, dsn string) (SQLPinger, error)) {
	p.open = open
}

// Name returns the prober name.
func (p *SQLProber) Name() string { return "sql-ping" }

// Probe opens a connection from the credential's DSN and pings it.
func (p *SQLProber) Probe(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
	if cred.ProbeURL == "" {
		return fmt.Errorf("no DSN configured for credential %s", cred.ID)
	}

	driver, dsn, err := driverFor(cred.ProbeURL)
	if err != nil {
		return err
	}

	db, err := p.open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return credErrors.ExternalError{System: "probe", Op: driver + " ping", Err: err}
	}
	return nil
}

// driverFor maps a DSN to a registered database/sql driver.
func driverFor(dsn string) (driver, cleaned string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "mysql://"):
		// go-sql-driver expects the DSN without a scheme.
		return "mysql", strings.TrimPrefix(dsn, "mysql://"), nil
	default:
		return "", "", fmt.Errorf("unsupported database DSN (expected postgres:// or mysql://)")
	}
}

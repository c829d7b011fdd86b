package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/store"
)

// relationalSink writes batches through database/sql using the engine's
// dialect for placeholders and DDL.
type relationalSink struct {
	cfg     *Config
	dialect *dialect
	db      *sql.DB

	insertMain  string
	insertAlert string
}

func newRelationalSink(cfg *Config) (*relationalSink, error) {
	d, err := dialectFor(cfg.DBType)
	if err != nil {
		return nil, err
	}
	return &relationalSink{
		cfg:         cfg,
		dialect:     d,
		insertMain:  d.insertStatement("monitor_main", mainColumns),
		insertAlert: d.insertStatement("monitor_alerts", alertColumns),
	}, nil
}

func (s *relationalSink) Connect(ctx context.Context) error {
	db, err := store.Open(ctx, store.Config{
		Kind:     s.cfg.DBType,
		Host:     s.cfg.Host,
		Port:     s.cfg.Port,
		User:     s.cfg.User,
		Password: s.cfg.Password,
		Database: s.cfg.Database,
		SID:      s.cfg.SID,
	})
	if err != nil {
		return err
	}
	s.db = db
	log.Infof("sink: connected to %s at %s:%d", s.cfg.DBType, s.cfg.Host, s.cfg.Port)
	return nil
}

func (s *relationalSink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("ensure sink schema: %w", err)
		}
	}
	return nil
}

// WriteBatch inserts all main rows and their alert rows in one transaction.
// Any insert failure rolls back the whole batch so the caller can retry the
// same files on the next pass.
func (s *relationalSink) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sink transaction: %w", err)
	}

	mainStmt, err := tx.PrepareContext(ctx, s.insertMain)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare monitor_main insert: %w", err)
	}
	defer mainStmt.Close()

	alertStmt, err := tx.PrepareContext(ctx, s.insertAlert)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare monitor_alerts insert: %w", err)
	}
	defer alertStmt.Close()

	for _, r := range records {
		if _, err := mainStmt.ExecContext(ctx, s.dialect.mainArgs(r)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert snapshot of %s@%s: %w", r.InstanceName, r.Timestamp, err)
		}
		for i := range r.Alerts {
			if _, err := alertStmt.ExecContext(ctx, s.dialect.alertArgs(&r.Alerts[i])...); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert alert of %s@%s: %w", r.InstanceName, r.Timestamp, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sink transaction: %w", err)
	}
	return nil
}

func (s *relationalSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

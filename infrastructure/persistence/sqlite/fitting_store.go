// Package sqlite provides a SQLite-backed fitting store for embedded and
// single-process deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
	"github.com/mcfletch/fitting/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

const (
	selectColumns = `id, source_id, target_id, fitting_type, name, created_at`

	insertFittingSQL = `INSERT INTO fittings (id, source_id, target_id, fitting_type, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	insertIgnoreFittingSQL = `INSERT OR IGNORE INTO fittings (id, source_id, target_id, fitting_type, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
)

// Open opens (or creates) a fitting database at the given path.
// The connection pool is capped at one connection: SQLite allows a single
// writer, and one shared connection avoids SQLITE_BUSY under write load.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// FittingStore is the SQLite implementation of the fitting repository.
// Batch mutations run inside a transaction, so concurrent readers observe
// either the state before the call or the state after it.
type FittingStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFittingStore applies the schema and wraps the connection
func NewFittingStore(db *sql.DB, logger *zap.Logger) (*FittingStore, error) {
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply fitting schema: %w", err)
	}
	return &FittingStore{db: db, logger: logger}, nil
}

// Save persists a new fitting, rejecting a duplicate triple
func (s *FittingStore) Save(ctx context.Context, fitting *entities.Fitting) error {
	result, err := s.db.ExecContext(ctx, insertIgnoreFittingSQL,
		fitting.ID(),
		fitting.SourceID().String(),
		fitting.TargetID().String(),
		fitting.Type().Value(),
		fitting.Name(),
		utils.FormatRFC3339(fitting.CreatedAt()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fitting: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return pkgerrors.NewDuplicateFittingError(
			fitting.SourceID().String(),
			fitting.TargetID().String(),
			fitting.Type().Value(),
		)
	}

	s.logger.Debug("Stored fitting",
		zap.String("source", fitting.SourceID().String()),
		zap.String("target", fitting.TargetID().String()),
		zap.Int64("type", fitting.Type().Value()),
	)
	return nil
}

// Get retrieves the fitting with the exact triple
func (s *FittingStore) Get(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM fittings WHERE source_id = ? AND target_id = ? AND fitting_type = ?`,
		sourceID.String(), targetID.String(), fittingType.Value(),
	)

	fitting, err := scanFitting(row)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.NewFittingNotFoundError(sourceID.String(), targetID.String(), fittingType.Value())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query fitting: %w", err)
	}
	return fitting, nil
}

// Delete removes every fitting from source to target whose type matches.
// Returns the removed fittings; an unknown pair removes nothing.
func (s *FittingStore) Delete(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	where := `source_id = ? AND target_id = ?`
	args := []interface{}{sourceID.String(), targetID.String()}
	if !fittingType.IsAny() {
		where += ` AND fitting_type = ?`
		args = append(args, fittingType.Value())
	}
	return s.deleteWhere(ctx, where, args)
}

// DeleteByElement removes every fitting of the matching type touching the
// element, in both directions. Returns the removed fittings.
func (s *FittingStore) DeleteByElement(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	where := `(source_id = ? OR target_id = ?)`
	args := []interface{}{elementID.String(), elementID.String()}
	if !fittingType.IsAny() {
		where += ` AND fitting_type = ?`
		args = append(args, fittingType.Value())
	}
	return s.deleteWhere(ctx, where, args)
}

// ReplaceSinks reconciles the outgoing fittings of source against the
// desired set in one transaction
func (s *FittingStore) ReplaceSinks(ctx context.Context, sourceID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	return s.replace(ctx, `source_id = ? AND fitting_type = ?`, sourceID, fittingType, desired, clear, aggregates.PlanSinkReplacement)
}

// ReplaceSources reconciles the incoming fittings of target against the
// desired set in one transaction
func (s *FittingStore) ReplaceSources(ctx context.Context, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	return s.replace(ctx, `target_id = ? AND fitting_type = ?`, targetID, fittingType, desired, clear, aggregates.PlanSourceReplacement)
}

func (s *FittingStore) replace(
	ctx context.Context,
	where string,
	elementID valueobjects.ElementID,
	fittingType valueobjects.FittingType,
	desired []*entities.Fitting,
	clear bool,
	planFn func(current, desired []*entities.Fitting) *aggregates.ReplacePlan,
) (*aggregates.ReplacePlan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := queryFittings(ctx, tx,
		`SELECT `+selectColumns+` FROM fittings WHERE `+where,
		elementID.String(), fittingType.Value(),
	)
	if err != nil {
		return nil, err
	}

	plan := planFn(current, desired)
	if !clear {
		plan.Delete = []*entities.Fitting{}
	}

	for _, f := range plan.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM fittings WHERE id = ?`, f.ID()); err != nil {
			return nil, fmt.Errorf("failed to delete fitting: %w", err)
		}
	}
	for _, f := range plan.Insert {
		if _, err := tx.ExecContext(ctx, insertFittingSQL,
			f.ID(),
			f.SourceID().String(),
			f.TargetID().String(),
			f.Type().Value(),
			f.Name(),
			utils.FormatRFC3339(f.CreatedAt()),
		); err != nil {
			return nil, fmt.Errorf("failed to insert fitting: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit replace: %w", err)
	}

	s.logger.Debug("Replaced fittings",
		zap.String("element", elementID.String()),
		zap.Int64("type", fittingType.Value()),
		zap.Int("inserted", len(plan.Insert)),
		zap.Int("deleted", len(plan.Delete)),
		zap.Int("kept", len(plan.Keep)),
	)
	return plan, nil
}

// UpdateName persists the fitting's current display name
func (s *FittingStore) UpdateName(ctx context.Context, fitting *entities.Fitting) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE fittings SET name = ? WHERE source_id = ? AND target_id = ? AND fitting_type = ?`,
		fitting.Name(),
		fitting.SourceID().String(),
		fitting.TargetID().String(),
		fitting.Type().Value(),
	)
	if err != nil {
		return fmt.Errorf("failed to update fitting name: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return pkgerrors.NewFittingNotFoundError(
			fitting.SourceID().String(),
			fitting.TargetID().String(),
			fitting.Type().Value(),
		)
	}
	return nil
}

// Sources retrieves the fittings entering the element whose type matches
func (s *FittingStore) Sources(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	return s.query(ctx, `target_id = ?`, elementID, fittingType)
}

// Sinks retrieves the fittings leaving the element whose type matches
func (s *FittingStore) Sinks(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	return s.query(ctx, `source_id = ?`, elementID, fittingType)
}

// List retrieves every fitting whose type matches
func (s *FittingStore) List(ctx context.Context, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	query := `SELECT ` + selectColumns + ` FROM fittings`
	args := []interface{}{}
	if !fittingType.IsAny() {
		query += ` WHERE fitting_type = ?`
		args = append(args, fittingType.Value())
	}
	query += ` ORDER BY source_id, fitting_type, target_id`
	return queryFittings(ctx, s.db, query, args...)
}

func (s *FittingStore) query(ctx context.Context, where string, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	query := `SELECT ` + selectColumns + ` FROM fittings WHERE ` + where
	args := []interface{}{elementID.String()}
	if !fittingType.IsAny() {
		query += ` AND fitting_type = ?`
		args = append(args, fittingType.Value())
	}
	query += ` ORDER BY source_id, fitting_type, target_id`
	return queryFittings(ctx, s.db, query, args...)
}

// deleteWhere selects the matching rows for the caller, then deletes them
// in the same transaction
func (s *FittingStore) deleteWhere(ctx context.Context, where string, args []interface{}) ([]*entities.Fitting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed, err := queryFittings(ctx, tx,
		`SELECT `+selectColumns+` FROM fittings WHERE `+where+` ORDER BY source_id, fitting_type, target_id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return removed, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fittings WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("failed to delete fittings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.Debug("Deleted fittings", zap.Int("count", len(removed)))
	return removed, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryFittings(ctx context.Context, q querier, query string, args ...interface{}) ([]*entities.Fitting, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fittings: %w", err)
	}
	defer rows.Close()

	fittings := []*entities.Fitting{}
	for rows.Next() {
		fitting, err := scanFitting(rows)
		if err != nil {
			return nil, err
		}
		fittings = append(fittings, fitting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fittings: %w", err)
	}
	return fittings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFitting(row rowScanner) (*entities.Fitting, error) {
	var id, source, target, name, createdAt string
	var fittingType int64
	if err := row.Scan(&id, &source, &target, &fittingType, &name, &createdAt); err != nil {
		return nil, err
	}

	sourceID, err := valueobjects.NewElementID(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", id, err)
	}
	targetID, err := valueobjects.NewElementID(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", id, err)
	}
	created, err := utils.ParseRFC3339(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", id, err)
	}

	return entities.ReconstructFitting(id, sourceID, targetID, valueobjects.NewFittingType(fittingType), name, created), nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
)

// WingmanRepo persists domain.WingmanItem rows keyed by alias.
type WingmanRepo struct {
	db *sql.DB
}

func (r *WingmanRepo) insert(item domain.WingmanItem) (domain.WingmanItem, error) {
	now := time.Now().Unix()
	item.Created = now
	item.Updated = now
	_, err := r.db.Exec(
		`INSERT INTO wingman (alias, status, model_repo, file_path, address, port, context_size, gpu_layers, force, error, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Alias, item.Status, item.ModelRepo, item.FilePath, item.Address, item.Port,
		item.ContextSize, item.GPULayers, item.Force, item.Error, item.Created, item.Updated,
	)
	if err != nil {
		return domain.WingmanItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
	}
	item.Isa = "WingmanItem"
	return item, nil
}

// Set upserts item by alias, preserving Created and overwriting Updated
// (§4.1, Upsert algorithm).
func (r *WingmanRepo) Set(item domain.WingmanItem) (domain.WingmanItem, error) {
	existing, err := r.Get(item.Alias)
	if err != nil {
		return domain.WingmanItem{}, err
	}
	if existing == nil {
		return r.insert(item)
	}

	item.Created = existing.Created
	item.Updated = time.Now().Unix()
	result, err := r.db.Exec(
		`UPDATE wingman SET status = ?, model_repo = ?, file_path = ?, address = ?, port = ?,
		 context_size = ?, gpu_layers = ?, force = ?, error = ?, updated = ? WHERE alias = ?`,
		item.Status, item.ModelRepo, item.FilePath, item.Address, item.Port,
		item.ContextSize, item.GPULayers, item.Force, item.Error, item.Updated, item.Alias,
	)
	if err != nil {
		return domain.WingmanItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.WingmanItem{}, domain.ErrIntegrityFailure
	}
	item.Isa = "WingmanItem"
	return item, nil
}

// Get returns the alias row, or nil if absent.
func (r *WingmanRepo) Get(alias string) (*domain.WingmanItem, error) {
	row := r.db.QueryRow(wingmanSelect+` WHERE alias = ?`, alias)
	return scanWingman(row)
}

// GetAll returns every WingmanItem, oldest first.
func (r *WingmanRepo) GetAll() ([]domain.WingmanItem, error) {
	rows, err := r.db.Query(wingmanSelect + ` ORDER BY created ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWingmans(rows)
}

// GetAllByStatus returns every WingmanItem with the given status.
func (r *WingmanRepo) GetAllByStatus(status domain.WingmanStatus) ([]domain.WingmanItem, error) {
	rows, err := r.db.Query(wingmanSelect+` WHERE status = ? ORDER BY created ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWingmans(rows)
}

// GetAllActive returns every row occupying the single inference slot
// (queued, preparing, or inferring).
func (r *WingmanRepo) GetAllActive() ([]domain.WingmanItem, error) {
	rows, err := r.db.Query(
		wingmanSelect+` WHERE status IN (?, ?, ?) ORDER BY created ASC`,
		domain.WingmanQueued, domain.WingmanPreparing, domain.WingmanInferring,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWingmans(rows)
}

// GetNextQueued returns the oldest queued row, or nil if none.
func (r *WingmanRepo) GetNextQueued() (*domain.WingmanItem, error) {
	row := r.db.QueryRow(wingmanSelect+` WHERE status = ? ORDER BY created ASC LIMIT 1`, domain.WingmanQueued)
	return scanWingman(row)
}

// GetByPort returns the non-complete row bound to port, or nil if none.
func (r *WingmanRepo) GetByPort(port int) (*domain.WingmanItem, error) {
	row := r.db.QueryRow(wingmanSelect+` WHERE port = ? AND status != ? LIMIT 1`, port, domain.WingmanComplete)
	return scanWingman(row)
}

// Remove deletes the alias row.
func (r *WingmanRepo) Remove(alias string) error {
	_, err := r.db.Exec(`DELETE FROM wingman WHERE alias = ?`, alias)
	return err
}

// Clear deletes every row.
func (r *WingmanRepo) Clear() error {
	_, err := r.db.Exec(`DELETE FROM wingman`)
	return err
}

// Count returns the number of rows.
func (r *WingmanRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM wingman`).Scan(&n)
	return n, err
}

// Reset reconciles wingman rows at service startup (§4.1, §3 invariant):
// the supervisor can only ever have driven one row active at a time, so
// among the active rows (a launcher crash can leave more than one in that
// state) the most recently updated one is kept and re-marked queued so it
// restarts; the rest are deleted. Complete rows are deleted outright since
// they describe a finished one-shot run with no further meaning.
func (r *WingmanRepo) Reset() error {
	active, err := r.GetAllActive()
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(active) > 0 {
		keep := active[0]
		for _, a := range active[1:] {
			if a.Updated > keep.Updated {
				keep = a
			}
		}
		for _, a := range active {
			if a.Alias == keep.Alias {
				continue
			}
			if _, err := tx.Exec(`DELETE FROM wingman WHERE alias = ?`, a.Alias); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`UPDATE wingman SET status = ?, error = '', updated = ? WHERE alias = ?`,
			domain.WingmanQueued, time.Now().Unix(), keep.Alias,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM wingman WHERE status = ?`, domain.WingmanComplete); err != nil {
		return err
	}

	return tx.Commit()
}

const wingmanSelect = `SELECT alias, status, model_repo, file_path, address, port, context_size, gpu_layers, force, error, created, updated FROM wingman`

func scanWingman(s scanner) (*domain.WingmanItem, error) {
	var item domain.WingmanItem
	err := s.Scan(&item.Alias, &item.Status, &item.ModelRepo, &item.FilePath, &item.Address, &item.Port,
		&item.ContextSize, &item.GPULayers, &item.Force, &item.Error, &item.Created, &item.Updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Isa = "WingmanItem"
	return &item, nil
}

func scanWingmans(rows *sql.Rows) ([]domain.WingmanItem, error) {
	var items []domain.WingmanItem
	for rows.Next() {
		item, err := scanWingman(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

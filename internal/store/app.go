package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
)

// AppRepo persists domain.AppItem rows keyed by (name, key).
type AppRepo struct {
	db *sql.DB
}

// Set upserts item, always overwriting Updated with the current time and
// never honoring a caller-supplied Updated value (§4.1, Upsert algorithm).
func (r *AppRepo) Set(item domain.AppItem) (domain.AppItem, error) {
	if item.Key == "" {
		item.Key = "default"
	}
	now := time.Now().Unix()

	existing, err := r.Get(item.Name, item.Key)
	if err != nil {
		return domain.AppItem{}, err
	}

	if existing == nil {
		item.Created = now
		item.Updated = now
		_, err := r.db.Exec(
			`INSERT INTO app (name, key, value, enabled, created, updated) VALUES (?, ?, ?, ?, ?, ?)`,
			item.Name, item.Key, item.Value, item.Enabled, item.Created, item.Updated,
		)
		if err != nil {
			return domain.AppItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
		}
		return item, nil
	}

	item.Created = existing.Created
	item.Updated = now
	result, err := r.db.Exec(
		`UPDATE app SET value = ?, enabled = ?, updated = ? WHERE name = ? AND key = ?`,
		item.Value, item.Enabled, item.Updated, item.Name, item.Key,
	)
	if err != nil {
		return domain.AppItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.AppItem{}, domain.ErrIntegrityFailure
	}
	return item, nil
}

// Get returns the (name, key) row, or nil if absent.
func (r *AppRepo) Get(name, key string) (*domain.AppItem, error) {
	if key == "" {
		key = "default"
	}
	row := r.db.QueryRow(
		`SELECT name, key, value, enabled, created, updated FROM app WHERE name = ? AND key = ?`,
		name, key,
	)
	return scanApp(row)
}

// GetAll returns every AppItem row.
func (r *AppRepo) GetAll() ([]domain.AppItem, error) {
	rows, err := r.db.Query(`SELECT name, key, value, enabled, created, updated FROM app ORDER BY name, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.AppItem
	for rows.Next() {
		item, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Remove deletes the (name, key) row.
func (r *AppRepo) Remove(name, key string) error {
	if key == "" {
		key = "default"
	}
	_, err := r.db.Exec(`DELETE FROM app WHERE name = ? AND key = ?`, name, key)
	return err
}

// Clear deletes every row.
func (r *AppRepo) Clear() error {
	_, err := r.db.Exec(`DELETE FROM app`)
	return err
}

// Count returns the number of rows.
func (r *AppRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM app`).Scan(&n)
	return n, err
}

func scanApp(s scanner) (*domain.AppItem, error) {
	var item domain.AppItem
	err := s.Scan(&item.Name, &item.Key, &item.Value, &item.Enabled, &item.Created, &item.Updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Isa = "AppItem"
	return &item, nil
}

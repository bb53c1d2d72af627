package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wingman-run/wingman/internal/domain"
)

// DownloadRepo persists domain.DownloadItem rows keyed by (modelRepo, filePath).
type DownloadRepo struct {
	db *sql.DB
}

// Enqueue inserts a queued row for (modelRepo, filePath) if one doesn't
// already exist; returns the existing or newly-created row.
func (r *DownloadRepo) Enqueue(modelRepo, filePath string) (domain.DownloadItem, error) {
	existing, err := r.Get(modelRepo, filePath)
	if err != nil {
		return domain.DownloadItem{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	item := domain.NewDownloadItem(modelRepo, filePath)
	item.Status = domain.DownloadQueued
	return r.insert(item)
}

func (r *DownloadRepo) insert(item domain.DownloadItem) (domain.DownloadItem, error) {
	now := time.Now().Unix()
	item.Created = now
	item.Updated = now
	_, err := r.db.Exec(
		`INSERT INTO downloads (model_repo, file_path, status, total_bytes, downloaded_bytes, download_speed, progress, error, metadata, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ModelRepo, item.FilePath, item.Status, item.TotalBytes, item.DownloadedBytes,
		item.DownloadSpeed, item.Progress, item.Error, item.Metadata, item.Created, item.Updated,
	)
	if err != nil {
		return domain.DownloadItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
	}
	item.Isa = "DownloadItem"
	return item, nil
}

// Set upserts item by (modelRepo, filePath), overwriting Updated and
// preserving Created on update (§4.1, Upsert algorithm).
func (r *DownloadRepo) Set(item domain.DownloadItem) (domain.DownloadItem, error) {
	existing, err := r.Get(item.ModelRepo, item.FilePath)
	if err != nil {
		return domain.DownloadItem{}, err
	}
	if existing == nil {
		return r.insert(item)
	}

	item.Created = existing.Created
	item.Updated = time.Now().Unix()
	result, err := r.db.Exec(
		`UPDATE downloads SET status = ?, total_bytes = ?, downloaded_bytes = ?, download_speed = ?,
		 progress = ?, error = ?, metadata = ?, updated = ? WHERE model_repo = ? AND file_path = ?`,
		item.Status, item.TotalBytes, item.DownloadedBytes, item.DownloadSpeed,
		item.Progress, item.Error, item.Metadata, item.Updated, item.ModelRepo, item.FilePath,
	)
	if err != nil {
		return domain.DownloadItem{}, fmt.Errorf("%w: %v", domain.ErrIntegrityFailure, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.DownloadItem{}, domain.ErrIntegrityFailure
	}
	item.Isa = "DownloadItem"
	return item, nil
}

// Get returns the (modelRepo, filePath) row, or nil if absent.
func (r *DownloadRepo) Get(modelRepo, filePath string) (*domain.DownloadItem, error) {
	row := r.db.QueryRow(downloadSelect+` WHERE model_repo = ? AND file_path = ?`, modelRepo, filePath)
	return scanDownload(row)
}

// GetAll returns every DownloadItem, oldest first.
func (r *DownloadRepo) GetAll() ([]domain.DownloadItem, error) {
	rows, err := r.db.Query(downloadSelect + ` ORDER BY created ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloads(rows)
}

// GetAllByStatus returns every DownloadItem with the given status.
func (r *DownloadRepo) GetAllByStatus(status domain.DownloadStatus) ([]domain.DownloadItem, error) {
	rows, err := r.db.Query(downloadSelect+` WHERE status = ? ORDER BY created ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloads(rows)
}

// GetNextQueued returns the oldest queued row, or nil if none.
func (r *DownloadRepo) GetNextQueued() (*domain.DownloadItem, error) {
	row := r.db.QueryRow(downloadSelect+` WHERE status = ? ORDER BY created ASC LIMIT 1`, domain.DownloadQueued)
	return scanDownload(row)
}

// Remove deletes the (modelRepo, filePath) row.
func (r *DownloadRepo) Remove(modelRepo, filePath string) error {
	_, err := r.db.Exec(`DELETE FROM downloads WHERE model_repo = ? AND file_path = ?`, modelRepo, filePath)
	return err
}

// Clear deletes every row.
func (r *DownloadRepo) Clear() error {
	_, err := r.db.Exec(`DELETE FROM downloads`)
	return err
}

// Count returns the number of rows.
func (r *DownloadRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM downloads`).Scan(&n)
	return n, err
}

// Reset reconciles download rows at service startup (§4.1):
// downloading/error/idle rows go back to queued with counters zeroed;
// cancelled/unknown rows are deleted; complete rows are kept untouched.
func (r *DownloadRepo) Reset() error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE downloads SET status = ?, downloaded_bytes = 0, progress = 0, download_speed = '', error = '', updated = ?
		 WHERE status IN (?, ?, ?)`,
		domain.DownloadQueued, time.Now().Unix(), domain.DownloadDownloading, domain.DownloadError, domain.DownloadIdle,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM downloads WHERE status IN (?, ?)`, domain.DownloadCancelled, domain.DownloadUnknown); err != nil {
		return err
	}

	return tx.Commit()
}

const downloadSelect = `SELECT model_repo, file_path, status, total_bytes, downloaded_bytes, download_speed, progress, error, metadata, created, updated FROM downloads`

func scanDownload(s scanner) (*domain.DownloadItem, error) {
	var item domain.DownloadItem
	err := s.Scan(&item.ModelRepo, &item.FilePath, &item.Status, &item.TotalBytes, &item.DownloadedBytes,
		&item.DownloadSpeed, &item.Progress, &item.Error, &item.Metadata, &item.Created, &item.Updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	item.Isa = "DownloadItem"
	return &item, nil
}

func scanDownloads(rows *sql.Rows) ([]domain.DownloadItem, error) {
	var items []domain.DownloadItem
	for rows.Next() {
		item, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

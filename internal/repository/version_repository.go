package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"fileversions/internal/domain"
)

const pgUniqueViolationCode = "23505"

var (
	ErrVersionNotFound     = errors.New("version not found")
	ErrVersionExists       = errors.New("version with this timestamp already exists")
	ErrIncompleteVersion   = errors.New("version requires file_id and timestamp")
	ErrVersionNotPersisted = errors.New("version has no id")
)

// versionRow строка таблицы files_versions
type versionRow struct {
	ID        *int64  `db:"id"`
	FileID    *int64  `db:"file_id"`
	Timestamp *int64  `db:"timestamp"`
	Label     *string `db:"label"`
	Author    *string `db:"author"`
}

func rowFromRecord(v *domain.VersionRecord) versionRow {
	ext := v.ToExternal()
	return versionRow{
		ID:        ext.ID,
		FileID:    ext.FileID,
		Timestamp: ext.Timestamp,
		Label:     ext.Label,
		Author:    ext.Author,
	}
}

func (r versionRow) record() *domain.VersionRecord {
	v := domain.NewVersionRecord()
	if r.ID != nil {
		v.SetID(*r.ID)
	}
	if r.FileID != nil {
		v.SetFileID(*r.FileID)
	}
	if r.Timestamp != nil {
		v.SetTimestamp(*r.Timestamp)
	}
	if r.Label != nil {
		v.SetLabel(*r.Label)
	}
	if r.Author != nil {
		v.SetAuthor(*r.Author)
	}
	return v
}

type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Insert сохраняет новую версию и присваивает ей id
func (r *VersionRepository) Insert(ctx context.Context, v *domain.VersionRecord) error {
	row := rowFromRecord(v)
	if row.FileID == nil || row.Timestamp == nil {
		return ErrIncompleteVersion
	}

	query := `INSERT INTO files_versions (file_id, timestamp, label, author)
	          VALUES ($1, $2, $3, $4) RETURNING id`

	var id int64
	err := r.db.QueryRowxContext(ctx, query, row.FileID, row.Timestamp, row.Label, row.Author).Scan(&id)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return fmt.Errorf("file %d at %d: %w", *row.FileID, *row.Timestamp, ErrVersionExists)
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}

	v.SetID(id)
	log.Debug().Int64("id", id).Int64("file_id", *row.FileID).Msg("version inserted")
	return nil
}

// Update записывает label и author уже сохраненной версии
func (r *VersionRepository) Update(ctx context.Context, v *domain.VersionRecord) error {
	row := rowFromRecord(v)
	if row.ID == nil {
		return ErrVersionNotPersisted
	}

	query := `UPDATE files_versions SET label = $1, author = $2 WHERE id = $3`

	res, err := r.db.ExecContext(ctx, query, row.Label, row.Author, *row.ID)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionNotFound
	}
	return nil
}

func (r *VersionRepository) FindByID(ctx context.Context, id int64) (*domain.VersionRecord, error) {
	var row versionRow
	query := `SELECT id, file_id, timestamp, label, author FROM files_versions WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return row.record(), nil
}

func (r *VersionRepository) FindByFileAndTimestamp(ctx context.Context, fileID, timestamp int64) (*domain.VersionRecord, error) {
	var row versionRow
	query := `SELECT id, file_id, timestamp, label, author FROM files_versions
	          WHERE file_id = $1 AND timestamp = $2`

	if err := r.db.GetContext(ctx, &row, query, fileID, timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return row.record(), nil
}

// ListByFileID возвращает версии файла, сначала новые
func (r *VersionRepository) ListByFileID(ctx context.Context, fileID int64) ([]*domain.VersionRecord, error) {
	var rows []versionRow
	query := `SELECT id, file_id, timestamp, label, author FROM files_versions
	          WHERE file_id = $1
	          ORDER BY timestamp DESC`

	if err := r.db.SelectContext(ctx, &rows, query, fileID); err != nil {
		return nil, fmt.Errorf("failed to get file versions: %w", err)
	}

	versions := make([]*domain.VersionRecord, 0, len(rows))
	for _, row := range rows {
		versions = append(versions, row.record())
	}
	return versions, nil
}

// ListFileIDs возвращает идентификаторы файлов, у которых есть версии
func (r *VersionRepository) ListFileIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	query := `SELECT DISTINCT file_id FROM files_versions ORDER BY file_id`

	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list versioned files: %w", err)
	}
	return ids, nil
}

func (r *VersionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files_versions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// DeleteByFileID удаляет все версии файла и возвращает их количество
func (r *VersionRepository) DeleteByFileID(ctx context.Context, fileID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files_versions WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file versions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

package repository

import (
	"context"

	"policychat-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FileRepository handles database operations for file metadata
type FileRepository struct {
	db *pgxpool.Pool
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *pgxpool.Pool) *FileRepository {
	return &FileRepository{db: db}
}

// Add inserts a new file metadata record
func (r *FileRepository) Add(ctx context.Context, record *models.FileRecord) error {
	query := `
		INSERT INTO file_metadata (file_id, filename, upload_date)
		VALUES ($1, $2, $3)`

	_, err := r.db.Exec(ctx, query, record.FileID, record.Filename, record.UploadDate)
	return err
}

// List retrieves all file metadata records, newest upload first
func (r *FileRepository) List(ctx context.Context) ([]models.FileRecord, error) {
	query := `
		SELECT file_id, filename, upload_date
		FROM file_metadata
		ORDER BY upload_date DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FileRecord
	for rows.Next() {
		var record models.FileRecord
		if err := rows.Scan(&record.FileID, &record.Filename, &record.UploadDate); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Delete removes a file metadata record by its file_id
func (r *FileRepository) Delete(ctx context.Context, fileID uuid.UUID) error {
	query := `DELETE FROM file_metadata WHERE file_id = $1`
	_, err := r.db.Exec(ctx, query, fileID)
	return err
}

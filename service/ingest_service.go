package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"policychat-backend/models"
	"policychat-backend/parser"
	"policychat-backend/storage"
	"policychat-backend/vectorstore"
)

var (
	ErrParsingFailed  = errors.New("failed to parse document")
	ErrIndexingFailed = errors.New("failed to index document")
	ErrMetadataFailed = errors.New("failed to store file metadata")
)

// Splitter turns parsed documents into indexable chunks.
type Splitter interface {
	Split(ctx context.Context, documents []models.Document) []models.Chunk
}

// MetadataStore is the relational record of uploaded files.
type MetadataStore interface {
	Add(ctx context.Context, record *models.FileRecord) error
	List(ctx context.Context) ([]models.FileRecord, error)
	Delete(ctx context.Context, fileID uuid.UUID) error
}

// IngestService owns the ingestion flow: stage upload, parse, chunk, tag,
// index, record metadata. It also handles listing and deletion.
type IngestService struct {
	splitter Splitter
	parser   parser.Parser
	index    vectorstore.Index
	store    MetadataStore
	uploads  storage.Storage
}

// IngestServiceOption is a functional option for IngestService
type IngestServiceOption func(*IngestService)

// IngestWithSplitter sets the document splitter
func IngestWithSplitter(splitter Splitter) IngestServiceOption {
	return func(s *IngestService) {
		s.splitter = splitter
	}
}

// IngestWithParser sets the document parser
func IngestWithParser(p parser.Parser) IngestServiceOption {
	return func(s *IngestService) {
		s.parser = p
	}
}

// IngestWithIndex sets the vector index
func IngestWithIndex(index vectorstore.Index) IngestServiceOption {
	return func(s *IngestService) {
		s.index = index
	}
}

// IngestWithMetadataStore sets the file metadata store
func IngestWithMetadataStore(store MetadataStore) IngestServiceOption {
	return func(s *IngestService) {
		s.store = store
	}
}

// IngestWithUploadStorage sets the staging storage for uploads
func IngestWithUploadStorage(uploads storage.Storage) IngestServiceOption {
	return func(s *IngestService) {
		s.uploads = uploads
	}
}

// NewIngestService creates a new ingest service
func NewIngestService(opts ...IngestServiceOption) *IngestService {
	s := &IngestService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessAndStore parses, chunks and indexes an uploaded file and records
// its metadata. Any failure is fatal for the request; chunks already
// written to the index before a later failure are left in place (known
// limitation).
func (s *IngestService) ProcessAndStore(ctx context.Context, data io.Reader, filename string) (*models.FileRecord, error) {
	if s.splitter == nil || s.parser == nil || s.index == nil || s.store == nil || s.uploads == nil {
		return nil, errors.New("ingest service collaborators not set")
	}

	fileID := uuid.New()

	stagedPath, err := s.uploads.Upload(ctx, fileID, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	defer func() {
		if err := s.uploads.Delete(ctx, stagedPath); err != nil {
			log.Printf("Warning: Failed to clean up staged upload %s: %v", stagedPath, err)
		}
	}()

	staged, err := s.uploads.Download(ctx, stagedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged upload: %w", err)
	}
	defer staged.Close()

	text, err := s.parser.Parse(ctx, staged, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	doc := models.Document{
		Content:  text,
		Metadata: map[string]string{"source": filename},
	}
	chunks := s.splitter.Split(ctx, []models.Document{doc})

	uploadDate := time.Now().UTC().Format(time.RFC3339)
	for _, chunk := range chunks {
		chunk.Metadata["file_id"] = fileID.String()
		chunk.Metadata["filename"] = filename
		chunk.Metadata["upload_date"] = uploadDate
	}

	if err := s.index.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexingFailed, err)
	}

	record := &models.FileRecord{
		FileID:     fileID,
		Filename:   filename,
		UploadDate: uploadDate,
	}
	if err := s.store.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataFailed, err)
	}

	log.Printf("Indexed %s as %s (%d chunks)", filename, fileID, len(chunks))
	return record, nil
}

// ListFiles returns all file records, newest first.
func (s *IngestService) ListFiles(ctx context.Context) ([]models.FileRecord, error) {
	if s.store == nil {
		return nil, errors.New("metadata store not set")
	}
	return s.store.List(ctx)
}

// DeleteFile removes a file's vectors and then its metadata record. The
// two deletions are not transactional; the index goes first so a crash in
// between leaves an orphaned metadata record rather than unreachable
// vectors.
func (s *IngestService) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	if s.index == nil || s.store == nil {
		return errors.New("ingest service collaborators not set")
	}

	if err := s.index.DeleteByFileID(ctx, fileID.String()); err != nil {
		return fmt.Errorf("failed to delete vectors for %s: %w", fileID, err)
	}
	if err := s.store.Delete(ctx, fileID); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", fileID, err)
	}
	return nil
}

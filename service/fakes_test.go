package service

import (
	"bytes"
	"context"
	"io"

	"github.com/google/uuid"

	"policychat-backend/models"
	"policychat-backend/vectorstore"
)

// fakeGenerator is a deterministic llm.TextGenerator for tests.
type fakeGenerator struct {
	generateFn func(ctx context.Context, system string, conv []models.ChatMessage) (string, error)
	streamFn   func(ctx context.Context, system string, conv []models.ChatMessage, emit func(string) error) error
}

func (f *fakeGenerator) Generate(ctx context.Context, system string, conv []models.ChatMessage) (string, error) {
	if f.generateFn == nil {
		return "", nil
	}
	return f.generateFn(ctx, system, conv)
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, system string, conv []models.ChatMessage, emit func(string) error) error {
	if f.streamFn == nil {
		return nil
	}
	return f.streamFn(ctx, system, conv, emit)
}

// fakeIndex records every call so tests can assert ordering and payloads.
type fakeIndex struct {
	upserted    []models.Chunk
	deletedIDs  []string
	lastQuery   string
	lastK       int
	searchHits  []vectorstore.SearchResult
	searchErr   error
	upsertErr   error
	deleteErr   error
	operations  *[]string
}

func (f *fakeIndex) record(op string) {
	if f.operations != nil {
		*f.operations = append(*f.operations, op)
	}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, chunks []models.Chunk) error {
	f.record("index.upsert")
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeIndex) DeleteByFileID(ctx context.Context, fileID string) error {
	f.record("index.delete")
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, fileID)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	f.record("index.search")
	f.lastQuery = query
	f.lastK = k
	return f.searchHits, f.searchErr
}

// fakeParser returns canned text or a canned error.
type fakeParser struct {
	text string
	err  error
}

func (f *fakeParser) Parse(ctx context.Context, r io.Reader, filename string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// fakeStore is an in-memory MetadataStore.
type fakeStore struct {
	records    []models.FileRecord
	addErr     error
	operations *[]string
}

func (f *fakeStore) record(op string) {
	if f.operations != nil {
		*f.operations = append(*f.operations, op)
	}
}

func (f *fakeStore) Add(ctx context.Context, record *models.FileRecord) error {
	f.record("store.add")
	if f.addErr != nil {
		return f.addErr
	}
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeStore) List(ctx context.Context) ([]models.FileRecord, error) {
	return f.records, nil
}

func (f *fakeStore) Delete(ctx context.Context, fileID uuid.UUID) error {
	f.record("store.delete")
	kept := f.records[:0]
	for _, r := range f.records {
		if r.FileID != fileID {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

// fakeStorage stages uploads in memory.
type fakeStorage struct {
	files   map[string][]byte
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: map[string][]byte{}}
}

func (f *fakeStorage) Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	path := fileID.String() + "/" + filename
	f.files[path] = content
	return path, nil
}

func (f *fakeStorage) Download(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.files[storagePath])), nil
}

func (f *fakeStorage) Delete(ctx context.Context, storagePath string) error {
	delete(f.files, storagePath)
	f.deleted = append(f.deleted, storagePath)
	return nil
}

// fakeSplitter returns canned chunks.
type fakeSplitter struct {
	chunks []models.Chunk
}

func (f *fakeSplitter) Split(ctx context.Context, docs []models.Document) []models.Chunk {
	return f.chunks
}

package models

// Document is a parsed file: raw text plus metadata such as the source
// filename. It is owned by the ingestion flow until it has been chunked.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Chunk is a titled, size-bounded group of propositions stored as one
// indexable unit. The ingestion flow enriches Metadata with file_id,
// filename and upload_date before the chunk is upserted.
type Chunk struct {
	Content  string
	Metadata map[string]string
}

// CopyMetadata returns a shallow copy of the document metadata so chunks
// derived from the same document never share a map.
func (d Document) CopyMetadata() map[string]string {
	meta := make(map[string]string, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return meta
}

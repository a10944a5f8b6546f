package knowledge

import "time"

// Document is an ingested knowledge-base entry. Immutable after ingestion
// except for deletion.
type Document struct {
	ID         string
	SourceText string
	Chunks     []Chunk
	UploadedAt time.Time
}

// Chunk is one embeddable slice of a document. Its ID is derived from the
// parent document: "<docID>:<seq>".
type Chunk struct {
	ID         string
	DocumentID string
	Seq        int
	Text       string
	Embedding  []float32
}

// Info is the listing projection of a document: identity and source text,
// no chunks or vectors.
type Info struct {
	ID         string    `json:"id"`
	SourceText string    `json:"sourceText"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// View is one page of the knowledge base in upload order. NextOffset is the
// offset of the page after this one; it only names more data when it is
// below Total.
type View struct {
	Documents  []Info `json:"documents"`
	NextOffset int    `json:"nextOffset"`
	Total      int    `json:"total"`
}

// HasMore reports whether another page exists past this one.
func (v View) HasMore() bool { return v.NextOffset < v.Total }

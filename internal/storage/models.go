package storage

import "time"

// Chunk is the stored unit of embedding and retrieval: one bounded segment
// of a document together with its vector.
type Chunk struct {
	ID         string    // UUID
	DocumentID string    // Owning document
	OwnerID    string    // Document owner; every search is scoped to one owner
	Order      int       // Zero-based position in document; contiguous after a completed reindex
	Title      string    // Parent document title, denormalized for retrieval display
	Text       string    // Chunk text content
	Embedding  []float32 // 1536-dim vector (text-embedding-3-small)
	CreatedAt  time.Time // When this chunk was written
}

// ScoredChunk pairs a chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// CollectionName is the single Qdrant collection holding all chunks.
const CollectionName = "chunks"

// VectorDimension is the embedding size for text-embedding-3-small.
const VectorDimension = 1536

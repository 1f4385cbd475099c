package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bull/docqa/internal/indexer"
)

// Document is a user-owned long-form text document. Its text is read as a
// snapshot by the indexer; chunks derived from it live in the chunk store.
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Collection is a named group of documents used as a retrieval filter.
type Collection struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// SaveDocument stores or updates a document.
func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, doc.ID, doc.OwnerID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID. Returns ErrNotFound if absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	var doc Document
	if err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	return &doc, nil
}

// DeleteDocument removes a document. Collection memberships cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ListDocuments returns all documents belonging to an owner, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, created_at, updated_at
		FROM documents WHERE owner_id = ?
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Content,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// DocumentSource exposes stored documents as indexing snapshots. It maps
// the store's not-found error onto the indexer's sentinel so the indexer
// never has to import this package.
type DocumentSource struct {
	store *Store
}

// DocumentSource returns the store's indexing view.
func (s *Store) DocumentSource() *DocumentSource {
	return &DocumentSource{store: s}
}

func (d *DocumentSource) GetDocument(ctx context.Context, id string) (*indexer.Document, error) {
	doc, err := d.store.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, indexer.ErrDocumentNotFound
		}
		return nil, err
	}
	return &indexer.Document{
		ID:      doc.ID,
		OwnerID: doc.OwnerID,
		Title:   doc.Title,
		Content: doc.Content,
	}, nil
}

var _ indexer.DocumentStore = (*DocumentSource)(nil)

// SaveCollection stores or updates a collection.
func (s *Store) SaveCollection(ctx context.Context, col *Collection) error {
	if col.CreatedAt.IsZero() {
		col.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, owner_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name
	`, col.ID, col.OwnerID, col.Name, col.CreatedAt)

	if err != nil {
		return fmt.Errorf("saving collection: %w", err)
	}
	return nil
}

// AddDocumentToCollection links a document into a collection.
func (s *Store) AddDocumentToCollection(ctx context.Context, collectionID, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_documents (collection_id, document_id)
		VALUES (?, ?)
		ON CONFLICT(collection_id, document_id) DO NOTHING
	`, collectionID, documentID)

	if err != nil {
		return fmt.Errorf("adding document to collection: %w", err)
	}
	return nil
}

// CollectionDocumentIDs expands a collection to its member document ids,
// restricted to documents the given owner actually owns. An unknown
// collection or one owned by someone else yields an empty expansion.
func (s *Store) CollectionDocumentIDs(ctx context.Context, collectionID, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cd.document_id
		FROM collection_documents cd
		JOIN collections c ON c.id = cd.collection_id
		JOIN documents d ON d.id = cd.document_id
		WHERE cd.collection_id = ? AND c.owner_id = ? AND d.owner_id = ?
		ORDER BY cd.document_id
	`, collectionID, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying collection documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning collection document: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating collection documents: %w", err)
	}

	return ids, nil
}

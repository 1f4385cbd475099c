package library

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/docqa/internal/metastore"
)

// FileSource lists and fetches importable files. *Fetcher satisfies it.
type FileSource interface {
	ListFiles(ctx context.Context) ([]string, error)
	FetchFile(ctx context.Context, relativePath string) (*FetchedFile, error)
}

// DocumentStore is the metadata persistence the importer writes to.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *metastore.Document) error
	SaveCollection(ctx context.Context, col *metastore.Collection) error
	AddDocumentToCollection(ctx context.Context, collectionID, documentID string) error
}

// JobSubmitter kicks off background indexing for the imported documents.
type JobSubmitter interface {
	SubmitBatch(ctx context.Context, documentIDs []string, ownerID string) (string, error)
}

// ImportResult reports what an import produced. Indexing runs as a
// background job; poll JobID for completion.
type ImportResult struct {
	CollectionID string
	DocumentIDs  []string
	JobID        string
}

// Importer pulls a GitHub directory into the library as a collection of
// documents and schedules them for indexing.
type Importer struct {
	store     DocumentStore
	scheduler JobSubmitter
	logger    *slog.Logger
	md        goldmark.Markdown
}

func NewImporter(store DocumentStore, scheduler JobSubmitter, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		md: goldmark.New(
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

// ImportRepository fetches every importable file under the given
// repository path, stores each as a document owned by ownerID, groups
// them into a named collection, and submits one batch index job.
// Document ids are derived from the file URL, so re-importing the same
// repository updates documents in place instead of duplicating them.
func (i *Importer) ImportRepository(ctx context.Context, fetcher FileSource, ownerID, collectionName string) (*ImportResult, error) {
	paths, err := fetcher.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repository files: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no importable files found")
	}

	collection := &metastore.Collection{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      collectionName,
		CreatedAt: time.Now().UTC(),
	}
	if err := i.store.SaveCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("save collection: %w", err)
	}

	result := &ImportResult{CollectionID: collection.ID}
	for _, p := range paths {
		file, err := fetcher.FetchFile(ctx, p)
		if err != nil {
			i.logger.Warn("Skipping file that failed to fetch", "path", p, "error", err)
			continue
		}

		now := time.Now().UTC()
		doc := &metastore.Document{
			ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(file.URL)).String(),
			OwnerID:   ownerID,
			Title:     i.titleFor(file),
			Content:   file.Content,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := i.store.SaveDocument(ctx, doc); err != nil {
			i.logger.Warn("Skipping file that failed to save", "path", p, "error", err)
			continue
		}
		if err := i.store.AddDocumentToCollection(ctx, collection.ID, doc.ID); err != nil {
			return nil, fmt.Errorf("add %s to collection: %w", p, err)
		}
		result.DocumentIDs = append(result.DocumentIDs, doc.ID)
	}

	if len(result.DocumentIDs) == 0 {
		return nil, fmt.Errorf("all %d files failed to import", len(paths))
	}

	jobID, err := i.scheduler.SubmitBatch(ctx, result.DocumentIDs, ownerID)
	if err != nil {
		return nil, fmt.Errorf("submit index job: %w", err)
	}
	result.JobID = jobID

	i.logger.Info("Repository imported", "collection", collection.ID, "documents", len(result.DocumentIDs), "job", jobID)
	return result, nil
}

// titleFor derives a document title from the file's first heading, or
// falls back to the file name.
func (i *Importer) titleFor(file *FetchedFile) string {
	if strings.HasSuffix(file.Path, ".md") {
		if title := firstHeading(i.md, file.Content); title != "" {
			return title
		}
	}
	base := path.Base(file.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// firstHeading returns the document's first top-level heading, if any.
func firstHeading(md goldmark.Markdown, content string) string {
	source := []byte(content)
	doc := md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil || len(tree.Items) == 0 {
		return ""
	}
	return string(tree.Items[0].Title)
}

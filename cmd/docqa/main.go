// Package main provides the docqa CLI for managing the document library.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docqa/internal/chunker"
	"github.com/bull/docqa/internal/config"
	"github.com/bull/docqa/internal/embedding"
	"github.com/bull/docqa/internal/indexer"
	"github.com/bull/docqa/internal/jobs"
	"github.com/bull/docqa/internal/library"
	"github.com/bull/docqa/internal/metastore"
	"github.com/bull/docqa/internal/retriever"
	"github.com/bull/docqa/internal/storage"
)

var (
	flagOwner      string
	flagConfig     string
	flagTitle      string
	flagCollection string
	flagDocs       []string
	flagTopK       int
	flagMinScore   float64
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Document library indexing and retrieval tool",
	Long:  "CLI tool for managing the document question-answering library: add and import documents, run indexing jobs, and query the index.",
}

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add local files to the library and index them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var indexCmd = &cobra.Command{
	Use:   "index <document-id>...",
	Short: "Re-index documents and wait for the job to finish",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Query the library and print ranked sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var importCmd = &cobra.Command{
	Use:   "import <owner/repo> [path]",
	Short: "Import markdown and text files from a GitHub repository",
	Long: `Fetches every .md and .txt file under the given repository path,
stores them as library documents grouped into a collection, and runs
one batch indexing job over them.

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings (required)
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runImport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List library documents",
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show an indexing job's status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "default", "owner id that scopes all operations")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "path to config file")

	addCmd.Flags().StringVar(&flagTitle, "title", "", "document title (default: file name)")

	askCmd.Flags().StringVar(&flagCollection, "collection", "", "restrict the search to one collection id")
	askCmd.Flags().StringSliceVar(&flagDocs, "doc", nil, "restrict the search to these document ids")
	askCmd.Flags().IntVar(&flagTopK, "top-k", retriever.DefaultTopK, "number of chunks to return")
	askCmd.Flags().Float64Var(&flagMinScore, "min-score", 0, "minimum similarity score (0 disables)")

	importCmd.Flags().StringVar(&flagCollection, "collection", "", "collection name (default: owner/repo)")

	rootCmd.AddCommand(addCmd, indexCmd, askCmd, importCmd, listCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired pipeline shared by the commands.
type app struct {
	cfg       *config.Config
	meta      *metastore.Store
	vectors   *storage.QdrantStorage
	embedder  *embedding.Embedder
	scheduler *jobs.Scheduler
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	meta, err := metastore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	vectors, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("connect to Qdrant: %w", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		meta.Close()
		vectors.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	client, err := embedding.NewClient()
	if err != nil {
		meta.Close()
		vectors.Close()
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.BatchSize)

	ix := indexer.New(meta.DocumentSource(), vectors, embedder, chunker.New(cfg.Chunker.MaxChars), slog.Default())
	scheduler := jobs.NewScheduler(meta, ix, cfg.Jobs.MaxWorkers, slog.Default())

	return &app{
		cfg:       cfg,
		meta:      meta,
		vectors:   vectors,
		embedder:  embedder,
		scheduler: scheduler,
	}, nil
}

func (a *app) close() {
	a.scheduler.Wait()
	a.vectors.Close()
	a.meta.Close()
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var ids []string
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		title := flagTitle
		if title == "" || len(args) > 1 {
			base := filepath.Base(path)
			title = strings.TrimSuffix(base, filepath.Ext(base))
		}

		now := time.Now().UTC()
		doc := &metastore.Document{
			ID:        uuid.New().String(),
			OwnerID:   flagOwner,
			Title:     title,
			Content:   string(content),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.meta.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}
		fmt.Printf("Added %s (%s)\n", title, doc.ID)
		ids = append(ids, doc.ID)
	}

	jobID, err := a.scheduler.SubmitBatch(ctx, ids, flagOwner)
	if err != nil {
		return fmt.Errorf("submit index job: %w", err)
	}
	return pollJob(ctx, a.scheduler, jobID)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var jobID string
	if len(args) == 1 {
		jobID, err = a.scheduler.SubmitDocument(ctx, args[0], flagOwner)
	} else {
		jobID, err = a.scheduler.SubmitBatch(ctx, args, flagOwner)
	}
	if err != nil {
		return fmt.Errorf("submit index job: %w", err)
	}

	return pollJob(ctx, a.scheduler, jobID)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ret := retriever.New(a.vectors, a.meta, a.embedder, slog.Default())

	result, err := ret.Retrieve(ctx, args[0], flagOwner, retriever.Filter{
		DocumentIDs:  flagDocs,
		CollectionID: flagCollection,
	}, flagTopK, flagMinScore)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if len(result.Sources) == 0 {
		fmt.Println(result.ContextText)
		return nil
	}

	for i, src := range result.Sources {
		fmt.Printf("%d. %s (%.2f) [%s]\n", i+1, src.Title, src.Similarity, src.DocumentID)
		fmt.Printf("   %s\n", src.Excerpt)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parts := strings.SplitN(args[0], "/", 2)
	if len(parts) != 2 {
		return fmt.Errorf("repository must be owner/repo, got %q", args[0])
	}
	basePath := ""
	if len(args) == 2 {
		basePath = args[1]
	}
	collectionName := flagCollection
	if collectionName == "" {
		collectionName = args[0]
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	fetcher, err := library.NewFetcher(parts[0], parts[1], basePath)
	if err != nil {
		return fmt.Errorf("create GitHub fetcher: %w", err)
	}
	importer := library.NewImporter(a.meta, a.scheduler, slog.Default())

	fmt.Printf("Importing %s...\n", args[0])
	result, err := importer.ImportRepository(ctx, fetcher, flagOwner, collectionName)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d documents into collection %s\n", len(result.DocumentIDs), result.CollectionID)
	return pollJob(ctx, a.scheduler, result.JobID)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	docs, err := a.meta.ListDocuments(ctx, flagOwner)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("No documents")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %s  (updated %s)\n", doc.ID, doc.Title, doc.UpdatedAt.Format("2006-01-02 15:04"))
	}

	if info, err := a.vectors.GetCollectionInfo(ctx); err == nil {
		fmt.Printf("\n%d documents, %d indexed chunks\n", len(docs), info.PointsCount)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.scheduler.Status(ctx, args[0])
	if err != nil {
		return fmt.Errorf("status lookup: %w", err)
	}
	printJob(job)
	return nil
}

// pollJob watches a job until it reaches a terminal state.
func pollJob(ctx context.Context, sched *jobs.Scheduler, jobID string) error {
	fmt.Printf("Job %s submitted\n", jobID)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := sched.Status(ctx, jobID)
		if err != nil {
			return fmt.Errorf("status lookup: %w", err)
		}
		if job.Progress != lastProgress {
			fmt.Printf("  progress: %d%%\n", job.Progress)
			lastProgress = job.Progress
		}
		if job.Status.Terminal() {
			printJob(job)
			if job.Status == jobs.StatusFailed {
				return fmt.Errorf("job failed")
			}
			return nil
		}
	}
}

func printJob(job *jobs.Job) {
	fmt.Printf("Job %s: %s (%d%%)\n", job.ID, job.Status, job.Progress)
	if job.Result == nil {
		return
	}
	if job.Result.Total > 0 {
		fmt.Printf("  Documents: %d/%d", job.Result.Processed, job.Result.Total)
		if job.Result.Failed > 0 {
			fmt.Printf(" (%d failed)", job.Result.Failed)
		}
		fmt.Println()
	}
	fmt.Printf("  Chunks: %d written, %d failed\n", job.Result.ChunksWritten, job.Result.ChunksFailed)
	if job.Result.DurationMillis > 0 {
		fmt.Printf("  Duration: %s\n", (time.Duration(job.Result.DurationMillis) * time.Millisecond).Round(time.Millisecond))
	}
	if job.Result.Error != "" {
		fmt.Printf("  Error: %s\n", job.Result.Error)
	}
}

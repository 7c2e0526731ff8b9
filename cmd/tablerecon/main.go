// Package main provides tablerecon, the command line front end of the table
// reconstruction worker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/tableprocess-worker/internal/config"
	"github.com/adverant/nexus/tableprocess-worker/internal/export"
	"github.com/adverant/nexus/tableprocess-worker/internal/logging"
	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
	"github.com/adverant/nexus/tableprocess-worker/internal/queue"
	"github.com/adverant/nexus/tableprocess-worker/internal/storage"
)

var (
	analyzerCfg     = processor.DefaultAnalyzerConfig()
	collisionPolicy string
	pretty          bool
	csvDir          string
	xlsxPath        string

	jobID      string
	documentID string
	redisURL   string
	queueName  string
	refresh    bool

	similarLimit int
)

func main() {
	_ = godotenv.Load(".env.nexus")
	logging.Configure(getEnv("LOG_LEVEL", "warn"), "text")

	rootCmd := &cobra.Command{
		Use:   "tablerecon",
		Short: "Reconstruct tables from positioned text fragments",
		Long: `tablerecon rebuilds row/column tables from OCR provider element JSON
(text plus bounding boxes) and talks to the table worker's queue and stores.`,
		SilenceUsage: true,
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze [elements.json]",
		Short: "Analyze an element file locally and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	addAnalyzerFlags(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	analyzeCmd.Flags().StringVar(&csvDir, "csv-dir", "", "Directory for one CSV file per table")
	analyzeCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write all tables to this workbook")

	submitCmd := &cobra.Command{
		Use:   "submit [elements.json]",
		Short: "Enqueue an element file for the worker",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&jobID, "job-id", "", "Job ID (default: random UUID)")
	submitCmd.Flags().StringVar(&documentID, "document-id", "", "Source document ID")
	submitCmd.Flags().StringVar(&redisURL, "redis-url", getEnv("REDIS_URL", "redis://localhost:6379"), "Redis URL")
	submitCmd.Flags().StringVar(&queueName, "queue", getEnv("QUEUE_NAME", "tableprocess"), "Queue name")
	submitCmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore and replace any cached result")

	similarCmd := &cobra.Command{
		Use:   "similar [elements.json]",
		Short: "Find stored tables whose layout resembles the first table in a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimilar,
	}
	addAnalyzerFlags(similarCmd)
	similarCmd.Flags().IntVar(&similarLimit, "limit", 5, "Maximum number of matches")
	similarCmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")

	rootCmd.AddCommand(analyzeCmd, submitCmd, similarCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addAnalyzerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&analyzerCfg.RowTolerance, "row-tolerance", analyzerCfg.RowTolerance, "Max vertical center distance within a row")
	f.Float64Var(&analyzerCfg.ColumnTolerance, "column-tolerance", analyzerCfg.ColumnTolerance, "Max horizontal center distance within a column")
	f.IntVar(&analyzerCfg.MinRows, "min-rows", analyzerCfg.MinRows, "Minimum rows per table")
	f.IntVar(&analyzerCfg.MinColumns, "min-columns", analyzerCfg.MinColumns, "Minimum columns per table")
	f.Float64Var(&analyzerCfg.MaxGapRatio, "max-gap-ratio", analyzerCfg.MaxGapRatio, "Row gap, in mean fragment heights, that splits a table")
	f.Float64Var(&analyzerCfg.MinConfidence, "min-confidence", analyzerCfg.MinConfidence, "Minimum confidence for a table to be reported")
	f.Float64Var(&analyzerCfg.OverlapThreshold, "overlap-threshold", analyzerCfg.OverlapThreshold, "Overlap ratio above which the weaker table is dropped")
	f.BoolVar(&analyzerCfg.Parallel, "parallel", analyzerCfg.Parallel, "Analyze pages in parallel")
	f.StringVar(&collisionPolicy, "collision", string(processor.CollisionDiscard), "Column collision policy: discard or concatenate")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, stats, err := analyzeFile(ctx, args[0])
	if err != nil {
		return err
	}
	if stats.Dropped() > 0 {
		fmt.Fprintf(os.Stderr, "dropped %d of %d elements\n", stats.Dropped(), stats.Accepted+stats.Dropped())
	}

	report := result.Report()

	if csvDir != "" {
		if err := writeCSVFiles(report.Tables, csvDir); err != nil {
			return fmt.Errorf("failed to write CSV files: %w", err)
		}
	}
	if xlsxPath != "" {
		if err := export.WriteXLSX(xlsxPath, report.Tables); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
	}

	return printJSON(report)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	elements, err := processor.DecodeElements(data)
	if err != nil {
		return err
	}

	if jobID == "" {
		jobID = uuid.New().String()
	}

	producer, err := queue.NewProducer(redisURL, queueName)
	if err != nil {
		return err
	}
	defer producer.Close()

	info, err := producer.EnqueueAnalysis(cmd.Context(), &queue.AnalyzePayload{
		JobID:      jobID,
		DocumentID: documentID,
		Elements:   elements,
		Refresh:    refresh,
	})
	if err != nil {
		return err
	}

	fmt.Printf("enqueued job %s as task %s on queue %s (%d elements)\n", jobID, info.ID, info.Queue, len(elements))
	return nil
}

func runSimilar(cmd *cobra.Command, args []string) error {
	result, _, err := analyzeFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(result.Tables) == 0 {
		return fmt.Errorf("no table found in %s", args[0])
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	sm, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		return err
	}
	defer sm.Close()

	query := processor.LayoutFingerprint(result.Tables[0].Descriptor())
	matches, err := sm.SearchSimilarLayouts(cmd.Context(), query, similarLimit)
	if err != nil {
		return err
	}
	return printJSON(matches)
}

func analyzeFile(ctx context.Context, path string) (*processor.AnalysisResult, processor.IngestStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, processor.IngestStats{}, fmt.Errorf("failed to read input: %w", err)
	}
	elements, err := processor.DecodeElements(data)
	if err != nil {
		return nil, processor.IngestStats{}, err
	}
	fragments, stats := processor.Ingest(elements)

	analyzerCfg.CollisionPolicy = processor.CollisionPolicy(collisionPolicy)
	analyzer, err := processor.NewDocumentAnalyzer(analyzerCfg, logging.NewLogger("tablerecon"))
	if err != nil {
		return nil, stats, err
	}

	result, err := analyzer.Analyze(ctx, fragments)
	if err != nil {
		return nil, stats, fmt.Errorf("analysis interrupted: %w", err)
	}
	return result, stats, nil
}

func writeCSVFiles(tables []processor.TableDescriptor, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	perPage := map[int]int{}
	for _, t := range tables {
		name := export.SheetName(t.Page, perPage[t.Page]) + ".csv"
		perPage[t.Page]++

		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := export.WriteCSV(f, t); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

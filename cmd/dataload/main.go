// Command dataload moves dated S3 drops into Postgres and derives the
// per-entity search artifacts: vector embeddings and a full-text index.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/config"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/s3"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/fts"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/logging"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/pipeline"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/schema"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/vectorstore"
)

const version = "0.2.0"

func main() {
	app := &cli.App{
		Name:    "dataload",
		Usage:   "Load dated S3 drops into Postgres with embeddings and full-text search",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-file",
				Aliases: []string{"c"},
				Usage:   "JSON config file overlaid on env settings",
			},
			&cli.StringFlag{
				Name:    "log-file",
				Aliases: []string{"l"},
				Usage:   "log file path (default: pipeline_YYYYMMDD.log)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			checkCommand(),
			searchCommand(),
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup resolves the configuration and installs the process logger. The
// returned closer releases the log file.
func setup(c *cli.Context) (*config.Config, *slog.Logger, func() error, error) {
	cfg := config.Load()
	if path := c.String("config-file"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			return nil, nil, nil, err
		}
	}
	if c.Bool("debug") {
		cfg.Logging.Level = "DEBUG"
	}
	if f := c.String("log-file"); f != "" {
		cfg.Logging.File = f
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	logger.Info("dataload starting", "version", version)
	return cfg, logger, closeLog, nil
}

func newS3Client(cfg *config.Config, logger *slog.Logger) (*s3.Client, error) {
	client, err := s3.New(s3.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Endpoint:        cfg.S3.Endpoint,
		UseSSL:          cfg.S3.UseSSL,
	}, s3.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return client, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute the pipeline against the latest or a chosen date folder",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "date-folder",
				Aliases: []string{"d"},
				Usage:   "S3 date folder to process (default: latest)",
			},
			&cli.StringFlag{
				Name:    "bucket",
				Aliases: []string{"b"},
				Usage:   "S3 bucket name (overrides config)",
			},
			&cli.StringFlag{
				Name:    "entity",
				Aliases: []string{"e"},
				Usage:   "only process this entity",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output file for results JSON",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "show what would be processed without running",
			},
			&cli.BoolFlag{
				Name:  "skip-embeddings",
				Usage: "skip embeddings generation",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, logger, closeLog, err := setup(c)
	if err != nil {
		return err
	}
	defer closeLog()

	if b := c.String("bucket"); b != "" {
		cfg.S3.Bucket = b
		logger.Info("using override bucket", "bucket", b)
	}

	s3c, err := newS3Client(cfg, logger)
	if err != nil {
		return err
	}

	if c.Bool("dry-run") {
		return dryRun(c.Context, s3c, c.String("date-folder"), c.String("entity"), logger)
	}

	db, err := postgres.Open(cfg.Database.Driver, cfg.Database.DSN(), postgres.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	importer := schema.NewImporter(db, schema.DefaultOverrides(), logger)

	stages := []pipeline.Stage{pipeline.NewParquetImporter(s3c, importer, logger)}
	if c.Bool("skip-embeddings") {
		logger.Info("skipping embeddings generation")
	} else {
		enc := vectorstore.NewEncoder(cfg.Embedding.Model, cfg.Embedding.Host, cfg.Embedding.Dim, logger)
		vectors := vectorstore.NewManager(db, enc, cfg.Embedding.BatchSize, logger)
		stages = append(stages, pipeline.NewEmbeddingsGenerator(vectors, logger))
	}
	stages = append(stages, pipeline.NewFTSGenerator(fts.NewManager(db, logger), logger))

	run := pipeline.New(s3c, importer, stages, logger).Run(c.Context, pipeline.Options{
		Partition:    c.String("date-folder"),
		EntityFilter: c.String("entity"),
	})

	if out := c.String("output"); out != "" {
		if err := pipeline.WriteResults(run, out); err != nil {
			logger.Error("failed to write results", "path", out, "err", err)
		} else {
			logger.Info("results written", "path", out)
		}
	} else if path, err := pipeline.SaveResults(run, "results"); err != nil {
		logger.Error("failed to save results", "err", err)
	} else {
		logger.Info("results saved", "path", path)
	}

	printSummary(os.Stdout, run)

	if !run.Success {
		return cli.Exit("", 1)
	}
	return nil
}

// dryRun reports what a run would process without touching the database.
func dryRun(ctx context.Context, client *s3.Client, partition, filter string, logger *slog.Logger) error {
	logger.Info("dry run mode, only showing what would be processed")

	if partition == "" {
		latest, err := client.LatestPartition(ctx)
		if err != nil {
			return fmt.Errorf("partition discovery: %w", err)
		}
		partition = latest
	}
	if partition == "" {
		return errors.New("no date folder found")
	}
	if !strings.HasSuffix(partition, "/") {
		partition += "/"
	}
	fmt.Printf("Would process date folder: %s\n", partition)

	folders, err := client.EntityFolders(ctx, partition)
	if err != nil {
		return fmt.Errorf("entity discovery: %w", err)
	}
	if len(folders) == 0 {
		return fmt.Errorf("no entity folders found in %s", partition)
	}

	overrides := schema.DefaultOverrides()
	fmt.Println("Would process the following entities:")
	for _, folder := range folders {
		raw := strings.TrimSuffix(strings.TrimPrefix(folder, partition), "/")
		if raw == "" || strings.Contains(raw, "/") {
			continue
		}
		entity := schema.Singularize(raw, overrides)
		if filter != "" && entity != filter {
			fmt.Printf("  - %s: SKIPPED (not selected)\n", entity)
			continue
		}
		files, err := client.DataFiles(ctx, folder)
		if err != nil {
			return fmt.Errorf("list files for %s: %w", entity, err)
		}
		fmt.Printf("  - %s: WOULD PROCESS\n", entity)
		fmt.Printf("    - Found %d parquet files\n", len(files))
	}
	fmt.Println("Dry run complete")
	return nil
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Verify object store and database connectivity",
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	cfg, logger, closeLog, err := setup(c)
	if err != nil {
		return err
	}
	defer closeLog()

	s3OK := checkS3(c.Context, cfg, logger)
	dbOK := checkDatabase(c.Context, cfg, logger)

	if s3OK && dbOK {
		fmt.Println("\nAll connection tests passed")
		return nil
	}
	return cli.Exit("\nConnection tests failed, check the log for details", 1)
}

func checkS3(ctx context.Context, cfg *config.Config, logger *slog.Logger) bool {
	logger.Info("testing object store connection")
	client, err := newS3Client(cfg, logger)
	if err != nil {
		logger.Error("object store client", "err", err)
		return false
	}

	buckets, err := client.Buckets(ctx)
	if err != nil {
		logger.Error("list buckets failed", "err", err)
		return false
	}
	logger.Info("available buckets", "buckets", strings.Join(buckets, ","))

	partition, err := client.LatestPartition(ctx)
	if err != nil || partition == "" {
		logger.Error("no date folders found", "err", err)
		return false
	}
	logger.Info("latest date folder", "partition", partition)

	folders, err := client.EntityFolders(ctx, partition)
	if err != nil || len(folders) == 0 {
		logger.Error("no entity folders found", "partition", partition, "err", err)
		return false
	}
	overrides := schema.DefaultOverrides()
	names := make([]string, 0, len(folders))
	for _, folder := range folders {
		raw := strings.TrimSuffix(strings.TrimPrefix(folder, partition), "/")
		if raw == "" || strings.Contains(raw, "/") {
			continue
		}
		names = append(names, schema.Singularize(raw, overrides))
	}
	logger.Info("entity folders found", "entities", strings.Join(names, ","))
	return true
}

func checkDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) bool {
	logger.Info("testing database connection")
	db, err := postgres.Open(cfg.Database.Driver, cfg.Database.DSN(), postgres.WithLogger(logger))
	if err != nil {
		logger.Error("database connection failed", "err", err)
		return false
	}
	defer db.Close()

	serverVersion, err := db.Version(ctx)
	if err != nil {
		logger.Error("server version query failed", "err", err)
		return false
	}
	logger.Info("server version", "version", serverVersion)

	for _, table := range []string{"spend_category", "product"} {
		exists, err := db.TableExists(ctx, table)
		if err != nil {
			logger.Error("table check failed", "table", table, "err", err)
			return false
		}
		if !exists {
			logger.Info("table does not exist yet, the pipeline will create it", "table", table)
			continue
		}
		count, err := db.RowCount(ctx, table)
		if err != nil {
			logger.Warn("row count failed", "table", table, "err", err)
			continue
		}
		logger.Info("table present", "table", table, "rows", count)
	}

	if db.HasVectorCapability(ctx) {
		logger.Info("pgvector extension is available")
	} else {
		logger.Warn("pgvector extension is not installed, embeddings fall back to binary storage")
	}
	return true
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run a ranked search against an entity's derived indexes",
		ArgsUsage: "QUERY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "entity",
				Aliases:  []string{"e"},
				Usage:    "entity table to search",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "maximum rows to return",
				Value:   10,
			},
			&cli.BoolFlag{
				Name:  "similar",
				Usage: "rank by embedding similarity instead of text match",
			},
		},
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("query text is required")
	}

	cfg, logger, closeLog, err := setup(c)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := postgres.Open(cfg.Database.Driver, cfg.Database.DSN(), postgres.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	entity := c.String("entity")
	limit := c.Int("limit")

	if c.Bool("similar") {
		enc := vectorstore.NewEncoder(cfg.Embedding.Model, cfg.Embedding.Host, cfg.Embedding.Dim, logger)
		matches, err := vectorstore.NewManager(db, enc, cfg.Embedding.BatchSize, logger).
			SearchSimilar(c.Context, entity, query, limit)
		if err != nil {
			return fmt.Errorf("similarity search: %w", err)
		}
		if len(matches) == 0 {
			fmt.Println("No matches")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "id\tsimilarity")
		for _, m := range matches {
			fmt.Fprintf(tw, "%s\t%.4f\n", m.ID, m.Similarity)
		}
		return tw.Flush()
	}

	res, err := fts.NewManager(db, logger).Search(c.Context, entity, query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if res == nil || len(res.Rows) == 0 {
		fmt.Println("No matches")
		return nil
	}
	printRows(os.Stdout, res)
	return nil
}

func printRows(w io.Writer, res *postgres.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

var stageDisplayOrder = []string{"ParquetImporter", "EmbeddingsGenerator", "FTSGenerator"}

func stageOrder(stages map[string]pipeline.Result) []string {
	names := make([]string, 0, len(stages))
	for _, n := range stageDisplayOrder {
		if _, ok := stages[n]; ok {
			names = append(names, n)
		}
	}
	var extra []string
	for n := range stages {
		if !slices.Contains(names, n) {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func printSummary(w io.Writer, run *pipeline.RunResult) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, center(" PIPELINE EXECUTION SUMMARY ", 60, '='))
	fmt.Fprintln(w, line)

	status := "FAILURE"
	if run.Success {
		status = "SUCCESS"
	}
	fmt.Fprintf(w, "Date folder: %s\n", run.Partition)
	fmt.Fprintf(w, "Status     : %s\n", status)
	fmt.Fprintf(w, "Run time   : %s\n", run.TotalTime)
	fmt.Fprintf(w, "Message    : %s\n", run.Message)
	fmt.Fprintln(w, strings.Repeat("-", 60))

	if len(run.Entities) == 0 {
		fmt.Fprintln(w, "\nNo entities were processed")
		fmt.Fprintln(w, "\n"+line)
		return
	}

	fmt.Fprintln(w, "\nEntity Results:")
	fmt.Fprintf(w, "Processed %d entities (%d successful, %d failed)\n",
		run.Stats.Total, run.Stats.Success, run.Stats.Failed)
	for _, e := range run.Entities {
		mark := "FAILED"
		if e.Success {
			mark = "OK"
		}
		fmt.Fprintf(w, "\n  %s: %s (%s)\n", e.Entity, mark, e.TotalTime)
		for _, name := range stageOrder(e.Stages) {
			sr := e.Stages[name]
			st := "FAILED"
			switch {
			case sr.Success:
				st = "OK"
			case sr.Skipped:
				st = "SKIPPED"
			}
			fmt.Fprintf(w, "    - %-20s: %-7s %-10s %s\n", name, st, sr.Time, sr.Message)
		}
	}
	fmt.Fprintln(w, "\n"+line)
}

func center(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(string(pad), left) + s + strings.Repeat(string(pad), right)
}

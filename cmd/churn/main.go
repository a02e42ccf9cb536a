package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/dvloznov/churn-analytics/internal/app"
	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/churn"
	"github.com/dvloznov/churn-analytics/internal/config"
	"github.com/dvloznov/churn-analytics/internal/features"
	"github.com/dvloznov/churn-analytics/internal/gcs"
	"github.com/dvloznov/churn-analytics/internal/logger"
	"github.com/dvloznov/churn-analytics/internal/pipeline"
	"github.com/dvloznov/churn-analytics/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "summary":
		runSummary(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "recommend":
		runRecommend(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Customer Churn Analytics CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  churn <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  build      Build, label and publish the customer feature table")
	fmt.Println("  summary    Show the churn distribution and revenue at risk")
	fmt.Println("  inspect    Show the features of one customer")
	fmt.Println("  recommend  Show retention recommendations per risk level")
	fmt.Println("  migrate    Create the BigQuery dataset and tables")
	fmt.Println("  upload     Copy a local raw snapshot to a gs:// prefix")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'churn <command> -h' for more information on a command.")
}

// commonFlags are accepted by every subcommand. Non-empty values override
// the config file and the environment.
type commonFlags struct {
	configPath string
	source     string
	cutoff     string
	output     string
	sqlitePath string
	workers    int
	segments   int
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", os.Getenv("CHURN_CONFIG"), "Path to a YAML config file (or set CHURN_CONFIG)")
	fs.StringVar(&c.source, "source", "", "Raw data directory, gs://bucket/prefix or \"bigquery\"")
	fs.StringVar(&c.cutoff, "cutoff", "", "Analysis cutoff (YYYY-MM-DD); defaults to the latest purchase")
	fs.StringVar(&c.output, "output", "", "CSV output path or gs:// URI")
	fs.StringVar(&c.sqlitePath, "sqlite", "", "SQLite database path")
	fs.IntVar(&c.workers, "workers", 0, "Worker goroutines for aggregation and labeling")
	fs.IntVar(&c.segments, "segments", -1, "k-means clusters; 0 disables segmentation")
	return c
}

// load reads the configuration and applies the flag overrides.
func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	c.apply(cfg)
	return cfg, cfg.Validate()
}

func (c *commonFlags) apply(cfg *config.Config) {
	if c.source != "" {
		cfg.Source = c.source
	}
	if c.cutoff != "" {
		cfg.Cutoff = c.cutoff
	}
	if c.output != "" {
		cfg.Sinks.CSV = c.output
	}
	if c.sqlitePath != "" {
		cfg.Sinks.SQLite = c.sqlitePath
	}
	if c.workers > 0 {
		cfg.Workers = c.workers
	}
	if c.segments >= 0 {
		cfg.Segments = c.segments
	}
}

// setup parses args, loads the config and opens the runtime. The returned
// context is cancelled on SIGINT or SIGTERM.
func setup(fs *flag.FlagSet, args []string) (context.Context, *app.Runtime, zerolog.Logger, func()) {
	common := registerCommon(fs)
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx = logger.WithContext(ctx, log)

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		stop()
		log.Fatal().Err(err).Msg("Failed to open backends")
	}
	return ctx, rt, log, func() {
		if err := rt.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close backends")
		}
		stop()
	}
}

func requireStore(log zerolog.Logger, rt *app.Runtime) *sqlite.Store {
	if rt.Store == nil {
		log.Fatal().Msg("Error: the SQLite sink is disabled; set -sqlite or sinks.sqlite")
	}
	return rt.Store
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	runID := fs.String("run-id", "", "Run ID (defaults to a new UUID)")
	ctx, rt, log, done := setup(fs, args)
	defer done()

	deps, err := rt.Deps(app.BuildOptions{RunID: *runID})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid build options")
	}

	state, err := pipeline.BuildFeatureTable(ctx, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Feature build failed")
	}

	fmt.Printf("\nFeature build %s completed: %d customers.\n", state.RunID, len(state.Records))
	if len(state.Published) > 0 {
		fmt.Printf("Published to: %v\n", state.Published)
	}
	printThresholds(os.Stdout, state.Thresholds)
	printImpact(os.Stdout, state.Impact)
}

func runSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	ctx, rt, log, done := setup(fs, args)
	defer done()

	sum, err := requireStore(log, rt).Summary(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load summary")
	}

	fmt.Printf("\nCustomers:       %d\n", sum.TotalCustomers)
	fmt.Printf("Total revenue:   %.2f\n", sum.TotalRevenue)
	fmt.Printf("Avg order value: %.2f\n", sum.AvgOrderValue)
	printImpact(os.Stdout, sum.Impact)
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	customerID := fs.String("customer", "", "customer_unique_id to inspect")
	ctx, rt, log, done := setup(fs, args)
	defer done()

	if *customerID == "" {
		log.Fatal().Msg("Error: -customer is required")
	}

	c, err := requireStore(log, rt).GetCustomer(ctx, *customerID)
	if errors.Is(err, sqlite.ErrNotFound) {
		log.Fatal().Str("customer_unique_id", *customerID).Msg("Customer not found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load customer")
	}
	printCustomer(os.Stdout, c)
}

func runRecommend(args []string) {
	fs := flag.NewFlagSet("recommend", flag.ExitOnError)
	riskLevel := fs.String("risk-level", "", "Only this risk level (e.g. \"High Risk\")")
	ctx, rt, log, done := setup(fs, args)
	defer done()

	var levels []churn.RiskLevel
	if *riskLevel != "" {
		l, ok := churn.ParseRiskLevel(*riskLevel)
		if !ok {
			log.Fatal().Str("risk_level", *riskLevel).Msg("Unknown risk level")
		}
		levels = append(levels, l)
	}

	impact, err := requireStore(log, rt).Impact(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute impact")
	}

	var drafter campaign.Drafter
	if rt.Config.Campaign.Enabled {
		gd, err := campaign.NewGeminiDrafter(ctx, rt.Config.Campaign.Model)
		if err != nil {
			log.Warn().Err(err).Msg("Campaign drafter unavailable, using playbook messages")
		} else {
			drafter = gd
		}
	}

	for _, rec := range campaign.NewPlanner(drafter).Plan(ctx, impact, levels...) {
		printRecommendation(os.Stdout, rec)
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	ctx, rt, log, done := setup(fs, args)
	defer done()

	if rt.BigQuery == nil {
		log.Fatal().Msg("Error: BigQuery is not configured; set sinks.bigquery or -source bigquery")
	}
	if err := rt.BigQuery.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	fmt.Println("BigQuery tables are up to date.")
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	dir := fs.String("dir", "", "Local directory holding the raw CSV files")
	dest := fs.String("dest", "", "Destination prefix, e.g. gs://bucket/olist/2018")
	fs.Parse(args)

	log := logger.New()
	if *dir == "" || *dest == "" {
		log.Fatal().Msg("Usage: churn upload -dir PATH -dest gs://BUCKET/PREFIX")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	client, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer client.Close()

	log.Info().Str("dir", *dir).Str("dest", *dest).Msg("Uploading raw snapshot")
	uploaded, err := gcs.UploadTables(ctx, client, *dir, *dest)
	if err != nil {
		log.Fatal().Err(err).Int("uploaded", len(uploaded)).Msg("Upload failed")
	}
	for _, uri := range uploaded {
		fmt.Printf("Uploaded %s\n", uri)
	}
}

func printThresholds(w io.Writer, th churn.Thresholds) {
	fmt.Fprintln(w, "\n=== Thresholds ===")
	fmt.Fprintf(w, "Recency p25/p50/p75: %.1f / %.1f / %.1f days\n", th.RecencyP25, th.RecencyP50, th.RecencyP75)
	fmt.Fprintf(w, "Frequency p25/p50:   %.1f / %.1f\n", th.FrequencyP25, th.FrequencyP50)
	fmt.Fprintf(w, "Monetary p25/p50:    %.2f / %.2f\n", th.MonetaryP25, th.MonetaryP50)
}

func printImpact(w io.Writer, r churn.ImpactReport) {
	fmt.Fprintln(w, "\n=== Churn Distribution ===")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Risk level\tCustomers\tShare\tRevenue\tAvg revenue")
	for _, li := range r.Levels {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.2f\t%.2f\n", li.Level, li.Customers, li.SharePct, li.TotalRevenue, li.AvgRevenue)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nRevenue at risk: %.2f of %.2f (%.1f%%)\n", r.RevenueAtRisk, r.TotalRevenue, r.RevenueAtRiskPct)
}

func printCustomer(w io.Writer, c *features.CustomerFeatures) {
	fmt.Fprintln(w, "\n=== Customer ===")
	fmt.Fprintf(w, "ID:          %s\n", c.CustomerUniqueID)
	fmt.Fprintf(w, "Location:    %s, %s (%s)\n", c.CustomerCity, c.CustomerState, c.CustomerZipCodePrefix)
	fmt.Fprintf(w, "Churn risk:  %s\n", c.ChurnRisk)
	if c.Cluster != nil {
		fmt.Fprintf(w, "Segment:     %d\n", *c.Cluster)
	}
	fmt.Fprintf(w, "Orders:      %d (%s to %s)\n", c.TotalOrders,
		c.FirstOrderDate.Format("2006-01-02"), c.LastOrderDate.Format("2006-01-02"))
	fmt.Fprintf(w, "Recency:     %d days\n", c.RecencyDays)
	fmt.Fprintf(w, "Monetary:    %.2f (avg order %.2f)\n", c.Monetary, c.AvgOrderValue)
	fmt.Fprintf(w, "Reviews:     %.2f avg, %d comments\n", c.AvgReviewScore, c.TotalReviewComments)
	fmt.Fprintf(w, "Products:    %d across %d categories\n", c.UniqueProducts, c.UniqueCategories)
}

func printRecommendation(w io.Writer, rec campaign.Recommendation) {
	fmt.Fprintf(w, "\n=== %s (%d customers) ===\n", rec.RiskLevel, rec.Customers)
	fmt.Fprintf(w, "Priority: %s\n", rec.Priority)
	fmt.Fprintf(w, "Budget:   %.0f%%\n", rec.BudgetSharePct)
	for i, a := range rec.Actions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, a)
	}
	fmt.Fprintf(w, "Message:  %s\n", rec.Message)
}

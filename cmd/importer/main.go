package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/transitlive/transitlive_core/internal/db"
	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/gtfs"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

func main() {
	gtfsPath := flag.String("gtfs", "", "Path to GTFS ZIP file")
	networkPath := flag.String("network", "", "Path to YAML network file")
	dedupeThreshold := flag.Float64("dedupe-threshold", 30.0, "Stop deduplication threshold in meters (0 disables)")
	dryRun := flag.Bool("dry-run", false, "Parse and normalise without writing to the database")

	flag.Parse()

	if (*gtfsPath == "") == (*networkPath == "") {
		fmt.Println("Usage: transitlive-import (--gtfs=<path.zip> | --network=<path.yaml>) [--dedupe-threshold=30] [--dry-run]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	if err := run(context.Background(), *gtfsPath, *networkPath, *dedupeThreshold, *dryRun, log); err != nil {
		log.Error("import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("Import completed successfully!")
}

func run(ctx context.Context, gtfsPath, networkPath string, dedupeThreshold float64, dryRun bool, log *slog.Logger) error {
	startTime := time.Now()

	log.Info("Step 1/3: Reading network...")
	network, err := load(gtfsPath, networkPath, log)
	if err != nil {
		return err
	}

	log.Info("Step 2/3: Cleaning and deduplicating stops...")
	network = gtfs.Normalize(network, dedupeThreshold, log)

	g := graph.NewBuilder(graph.DefaultOptions(), log).Build(network)
	log.Info("network summary",
		slog.Int("stops", len(network.Stops)),
		slog.Int("routes", len(network.Routes)),
		slog.Int("route_stops", len(network.RouteStops)),
		slog.Int("graph_nodes", len(g.Nodes)),
		slog.Int("graph_edges", g.EdgeCount()))

	if dryRun {
		log.Info("dry run, nothing written")
		return nil
	}

	log.Info("Step 3/3: Writing network...")
	pool, err := db.GetDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	defer pg.Close()

	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	version, err := pg.ReplaceNetwork(ctx, network)
	if err != nil {
		return err
	}

	log.Info("network imported",
		slog.Int64("network_version", version),
		slog.Duration("duration", time.Since(startTime)))
	return nil
}

func load(gtfsPath, networkPath string, log *slog.Logger) (models.Network, error) {
	if networkPath != "" {
		return gtfs.LoadNetworkFile(networkPath)
	}
	static, err := gtfs.LoadStaticFile(gtfsPath)
	if err != nil {
		return models.Network{}, err
	}
	return gtfs.FromStatic(static, log), nil
}

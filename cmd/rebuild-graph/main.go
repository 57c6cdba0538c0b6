// Command rebuild-graph checks that the stored network builds into a usable
// graph and bumps the network version so running API servers rebuild their
// in-memory graph and stop serving cached itineraries.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/transitlive/transitlive_core/internal/db"
	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/store"
)

func main() {
	yes := flag.Bool("yes", false, "Skip the confirmation prompt")
	flag.Parse()

	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	log.Info("🔄 TransitLive Core - Graph Rebuild Tool")

	pool, err := db.GetDB()
	if err != nil {
		log.Error("❌ Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pg := store.NewPostgresStore(pool)
	defer pg.Close()

	ctx := context.Background()

	network, err := pg.LoadNetwork(ctx)
	if err != nil {
		log.Error("❌ Failed to load network", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(network.Stops) == 0 || len(network.Routes) == 0 || len(network.RouteStops) == 0 {
		log.Error("❌ No network found in database. Import one first!")
		os.Exit(1)
	}

	startTime := time.Now()
	g := graph.NewBuilder(graph.DefaultOptions(), log).Build(network)

	coverage := float64(len(g.Nodes)) / float64(len(network.Stops)) * 100
	log.Info("📊 Graph statistics",
		slog.Int("stops", len(network.Stops)),
		slog.Int("routes", len(network.Routes)),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", g.EdgeCount()),
		slog.String("stop_coverage", fmt.Sprintf("%d/%d (%.1f%%)", len(g.Nodes), len(network.Stops), coverage)),
		slog.Duration("duration", time.Since(startTime)))

	if !*yes && !confirm("This will invalidate every running graph and cached itinerary. Continue? (yes/no): ") {
		log.Info("❌ Rebuild cancelled")
		return
	}

	version, err := pg.BumpNetworkVersion(ctx)
	if err != nil {
		log.Error("❌ Failed to bump network version", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("🚀 Graph is ready for routing!", slog.Int64("network_version", version))
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "yes" || answer == "y"
}

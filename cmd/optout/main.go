// Command optout walks one address through the opt-out flow against a running registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"eddm-registry/internal/client"
	"eddm-registry/internal/events"
	"eddm-registry/internal/flow"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("REGISTRY_URL", "http://localhost:8780"), "registry base URL")
	addr := flag.String("address", "", "street address to look up")
	email := flag.String("email", "", "optional email for milestone updates")
	confirm := flag.Bool("confirm", false, "register the opt-out after the lookup")
	retries := flag.Int("retries", 3, "opt-out retry attempts on transient failures")
	verbose := flag.Bool("v", false, "log requests and events")
	flag.Parse()

	if *addr == "" {
		fmt.Fprintln(os.Stderr, "usage: optout -address \"123 Main St, Springfield IL\" [-email you@example.org] [-confirm]")
		os.Exit(2)
	}

	logr := zap.NewNop()
	if *verbose {
		logr, _ = zap.NewDevelopment()
	}
	defer func() { _ = logr.Sync() }()

	api := client.New(*server, &http.Client{Timeout: 30 * time.Second}, *retries, logr)
	f := flow.New(api, events.Logging{Logr: logr}, 15*time.Second, logr)

	os.Exit(run(context.Background(), f, os.Stdout, *addr, *email, *confirm))
}

func run(ctx context.Context, f *flow.Flow, out io.Writer, addr, email string, confirm bool) int {
	s := f.Lookup(ctx, addr)
	if s.Phase != flow.RouteFound {
		fmt.Fprintf(out, "Lookup failed: %s\n", s.Err)
		return 1
	}

	r := s.Route
	fmt.Fprintf(out, "Address:      %s\n", r.StandardizedAddress)
	fmt.Fprintf(out, "Route:        %s (%s %s, %s)\n", r.ZipRoute, r.City, r.State, r.RouteType)
	fmt.Fprintf(out, "Opted out:    %d of ~%d households (%.2f%%, %s confidence)\n",
		r.Stats.OptOutCount, r.Stats.EstimatedHouseholds, r.Stats.PercentOptedOut, r.Stats.Confidence)
	if len(s.Locations) > 0 {
		fmt.Fprintf(out, "Map clusters: %d\n", len(s.Locations))
	}

	if !confirm {
		fmt.Fprintln(out, "Run again with -confirm to opt out.")
		return 0
	}

	s = f.OptOut(ctx, email)
	if s.Phase != flow.OptedOut {
		fmt.Fprintf(out, "Opt-out failed: %s\n", s.Err)
		return 1
	}

	res := s.Result
	if res.IsNewOptOut {
		fmt.Fprintln(out, "Thanks, your opt-out is recorded.")
	} else {
		fmt.Fprintln(out, "This address had already opted out.")
	}
	fmt.Fprintf(out, "Route %s now at %d of ~%d households (%.2f%%)\n",
		res.ZipRoute, res.OptOutCount, res.EstimatedHouseholds, res.PercentOptedOut)
	if res.MilestoneReached != nil {
		fmt.Fprintf(out, "Milestone: this route just passed %d%%!\n", *res.MilestoneReached)
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

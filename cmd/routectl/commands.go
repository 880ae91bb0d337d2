package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/market-routes/client"
	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/markets"
	"github.com/upb/market-routes/services/routing"
)

type rootOptions struct {
	apiURL     string
	timeout    time.Duration
	outputJSON bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "routectl",
		Short:         "Query the market route API",
		Long:          `Resolve driving distances from a user to markets through a running route-api.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.apiURL, "api", "a", envOr("ROUTE_API_URL", "http://localhost:3000"), "Route API base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	root.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output results as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")

	root.AddCommand(newResolveCmd(opts), newMarketsCmd(opts), newProvidersCmd(opts))
	return root
}

func (o *rootOptions) client(extra ...client.Option) (*client.Client, error) {
	logger := zap.NewNop()
	if o.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	opts := append([]client.Option{client.WithLogger(logger)}, extra...)
	c := client.New(o.apiURL, opts...)
	return c, nil
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var from, to, name string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the route between two points",
		Example: `  routectl resolve --from -15.7942,-47.8822 --to -15.7801,-47.9292 --name "Feira da Torre"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseCoordinate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			destination, err := parseCoordinate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			c, err := opts.client()
			if err != nil {
				return err
			}

			ctx, cancel := contextWithTimeout(cmd, opts.timeout)
			defer cancel()

			result, err := c.Resolve(ctx, models.NewRouteQuery(origin, destination, name))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "distance: %.0f m\n", result.DistanceMeters)
			fmt.Fprintf(out, "duration: %s\n", formatSeconds(result.DurationSeconds))
			fmt.Fprintf(out, "service:  %s (accuracy %d%%)\n", result.Service, result.Accuracy)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Origin as lat,lng")
	cmd.Flags().StringVar(&to, "to", "", "Destination as lat,lng")
	cmd.Flags().StringVar(&name, "name", "", "Destination label")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// marketFile is one entry of the markets JSON file
type marketFile struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func newMarketsCmd(opts *rootOptions) *cobra.Command {
	var (
		from      string
		file      string
		limit     int
		chunkSize int
		delay     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "markets",
		Short: "Crawl routes to every market in a file and rank them",
		Long: `Reads a JSON array of {id, name, lat, lng}, keeps the --limit nearest markets
by straight-line distance and resolves their routes a few at a time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseCoordinate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}

			list, err := loadMarkets(file)
			if err != nil {
				return err
			}

			if limit > 0 && limit < len(list) {
				idx, err := markets.BuildIndex(list)
				if err != nil {
					return fmt.Errorf("invalid markets file: %w", err)
				}
				list = idx.Nearest(origin, limit)
			}

			c, err := opts.client(client.WithPacing(chunkSize, delay))
			if err != nil {
				return err
			}

			ctx, cancel := contextWithTimeout(cmd, opts.timeout*time.Duration(len(list)+1))
			defer cancel()

			results, err := c.CrawlMarkets(ctx, origin, list)
			if err != nil {
				return err
			}

			ranked := rank(list, results)
			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return writeJSON(out, ranked)
			}
			return writeRankedTable(out, ranked)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "User location as lat,lng")
	cmd.Flags().StringVarP(&file, "file", "f", "markets.json", "Markets JSON file, - for stdin")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Only crawl the n nearest markets (0 = all)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", routing.DefaultChunkSize, "Markets resolved concurrently")
	cmd.Flags().DurationVar(&delay, "delay", routing.DefaultInterChunkDelay, "Pause between chunks")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newProvidersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show the provider chain configured on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			ctx, cancel := contextWithTimeout(cmd, opts.timeout)
			defer cancel()

			info, err := c.Providers(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				return writeJSON(out, info)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tACCURACY\tTIMEOUT")
			for _, p := range info.Providers {
				fmt.Fprintf(tw, "%s\t%d%%\t%s\n", p.Name, p.Accuracy, time.Duration(p.TimeoutMs)*time.Millisecond)
			}
			fmt.Fprintf(tw, "%s\t%d%%\t%.0f km/h\n", info.Fallback.Service, info.Fallback.Accuracy, info.Fallback.SpeedKmh)
			if err := tw.Flush(); err != nil {
				return err
			}
			if info.Cache != nil {
				fmt.Fprintf(out, "\ncache: %d/%d entries, hit rate %.0f%%\n", info.Cache.Size, info.Cache.MaxSize, info.Cache.HitRate*100)
			}
			return nil
		},
	}
}

func loadMarkets(path string) ([]models.Market, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open markets file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var entries []marketFile
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse markets file: %w", err)
	}

	list := make([]models.Market, len(entries))
	for i, e := range entries {
		list[i] = models.Market{ID: e.ID, Name: e.Name, Location: models.Coordinate{Lat: e.Lat, Lng: e.Lng}}
	}
	return list, nil
}

// rank pairs markets with their outcomes, nearest route first, failures last
func rank(list []models.Market, results models.BatchResult) []models.RankedMarket {
	ranked := make([]models.RankedMarket, len(list))
	for i, m := range list {
		ranked[i] = models.RankedMarket{Market: m}
		outcome := results[m.ID]
		if outcome.Err != nil {
			ranked[i].Error = outcome.Err.Error()
			continue
		}
		ranked[i].Route = outcome.Result
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		ra, rb := ranked[a].Route, ranked[b].Route
		if ra == nil || rb == nil {
			return ra != nil
		}
		return ra.DistanceMeters < rb.DistanceMeters
	})
	return ranked
}

func writeRankedTable(out io.Writer, ranked []models.RankedMarket) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMARKET\tDISTANCE\tDURATION\tSERVICE")
	for i, m := range ranked {
		label := m.Name
		if label == "" {
			label = m.ID
		}
		if m.Route == nil {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\terror: %s\n", i+1, label, m.Error)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%.1f km\t%s\t%s\n", i+1, label,
			m.Route.DistanceMeters/1000, formatSeconds(m.Route.DurationSeconds), m.Route.Service)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseCoordinate parses "lat,lng"
func parseCoordinate(s string) (models.Coordinate, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return models.Coordinate{}, fmt.Errorf("expected lat,lng, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("invalid longitude %q", lngStr)
	}
	c := models.Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Second).String()
}

func contextWithTimeout(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"listing-geocoder/models"
)

var (
	crawlRegions []string
	crawlAll     bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl and geocode one or more regions, then print a report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		targets, err := selectRegions(env, append(crawlRegions, args...))
		if err != nil {
			return err
		}

		logger.Info("=== Listing geocoder starting ===")
		logger.Info("Config: pages: %d | sessions: %d | rate: %dms | geocode rps: %.1f",
			cfg.PagesToScrape, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.GeocodeRPS)

		handles := make([]string, 0, len(targets))
		for _, r := range targets {
			h, err := env.Manager.StartCrawl(r)
			if err != nil {
				return eris.Wrapf(err, "start crawl for %s", r.Code)
			}
			handles = append(handles, h)
		}

		// On interrupt, cancel every crawl and still collect what they have.
		go func() {
			<-ctx.Done()
			for _, h := range handles {
				env.Manager.Cancel(h)
			}
		}()

		failed := 0
		for _, h := range handles {
			st, err := env.Manager.Wait(context.Background(), h)
			if err != nil {
				return err
			}
			if st.State != models.CrawlCompleted {
				failed++
				logger.Warn("Crawl for %s ended %s: %s", st.Region, st.State, st.Reason)
			}
			if st.Dataset == nil {
				continue
			}

			env.Insights.Print(os.Stdout, env.Insights.Generate(st.Dataset))

			if env.Postgres != nil {
				total, resolved, err := env.Postgres.CountResolved(st.Region)
				if err != nil {
					logger.Warn("Counting stored listings for %s: %v", st.Region, err)
				} else {
					logger.Info("PostgreSQL now holds %d listings for %s (%d geocoded)", total, st.Region, resolved)
				}
			}
		}

		fmt.Printf("  Done. Geocoded data -> %s\n\n", cfg.CSVOutputPath)
		if failed > 0 {
			return fmt.Errorf("%d of %d crawls did not complete", failed, len(handles))
		}
		return nil
	},
}

func selectRegions(env *pipeline, codes []string) ([]models.Region, error) {
	if crawlAll {
		return env.Regions.All(), nil
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no region given; use --region <code> or --all (known: %s)", knownCodes(env))
	}
	var out []models.Region
	for _, code := range codes {
		r, ok := env.Regions.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("unknown region %q (known: %s)", code, knownCodes(env))
		}
		out = append(out, r)
	}
	return out, nil
}

func knownCodes(env *pipeline) string {
	var codes []string
	for _, r := range env.Regions.All() {
		codes = append(codes, r.Code)
	}
	return strings.Join(codes, ", ")
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the regions a crawl can be started for",
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := loadRegions()
		if err != nil {
			return err
		}
		for _, r := range regions.All() {
			fmt.Printf("  %-18s %-22s %s\n", r.Code, r.Name, r.Locality)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringSliceVarP(&crawlRegions, "region", "r", nil, "region code to crawl (repeatable)")
	crawlCmd.Flags().BoolVar(&crawlAll, "all", false, "crawl every catalogued region")
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(regionsCmd)
}

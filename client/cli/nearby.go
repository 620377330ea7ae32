package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"nearchat/client/model"
	"nearchat/client/presence"
)

func nearbyCommand(e *env) *cobra.Command {
	var (
		search    string
		watch     bool
		lat, lon  float64
		locations string
	)
	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "List students nearby",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, stop, err := e.openSession(ctx)
			if err != nil {
				return err
			}
			defer stop()

			pollCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			log := e.log.WithField("command", "nearby")
			fixed := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")
			if fixed {
				c := model.Coordinates{Latitude: lat, Longitude: lon}
				if err := s.Realtime.Send(ctx, model.UpdateLocation{Coordinates: c}); err != nil {
					return err
				}
				if watch && locations == "" {
					go presence.ReportLocations(pollCtx, s.Realtime, presence.Repeat(pollCtx, c, e.cfg.PollInterval), log)
				}
			}
			if locations != "" {
				r, closeSrc, err := openLocations(cmd, locations)
				if err != nil {
					return err
				}
				defer closeSrc()
				go presence.ReportLocations(pollCtx, s.Realtime, presence.ReadLocations(pollCtx, r, log), log)
			}
			s.Nearby.SetQuery(search)

			updates := make(chan struct{}, 1)
			unsubscribe := s.Nearby.Subscribe(func() {
				select {
				case updates <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()

			go s.Poller.Run(pollCtx)

			var mu sync.Mutex
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-updates:
					mu.Lock()
					printNearby(cmd.OutOrStdout(), s.Nearby)
					mu.Unlock()
					if !watch {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only show names containing this text")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep refreshing until interrupted")
	cmd.Flags().Float64Var(&lat, "lat", 0, "report this latitude (resent every poll with --watch)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "report this longitude (resent every poll with --watch)")
	cmd.Flags().StringVar(&locations, "locations", "", `read "lat,lon" lines from this file ("-" for stdin)`)
	return cmd
}

func openLocations(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open locations: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printNearby(w io.Writer, list *presence.List) {
	users := list.Filtered()
	if q := list.Query(); q != "" {
		fmt.Fprintf(w, "-- %d of %d nearby match %q --\n", len(users), len(list.All()), q)
	} else {
		fmt.Fprintf(w, "-- %d nearby --\n", len(users))
	}
	for _, u := range users {
		fmt.Fprintf(w, "%-24s %s\n", u.FullName, u.ID)
	}
}

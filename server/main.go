package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nearchat/server/auth"
	"nearchat/server/handler"
	"nearchat/server/room"
	"nearchat/server/store"
)

type serverOptions struct {
	addr      string
	dbPath    string
	uploads   string
	jwtSecret string
	logLevel  string
	rate      float64
	burst     int
}

func main() {
	_ = godotenv.Load(".env")

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := serverOptions{}
	cmd := &cobra.Command{
		Use:          "nearchat-devserver",
		Short:        "Development backend for the nearchat client",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jwtSecret == "" {
				opts.jwtSecret = os.Getenv("NEARCHAT_JWT_SECRET")
			}
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flags.StringVar(&opts.dbPath, "db", filepath.Join("data", "nearchat.db"), "sqlite database path")
	flags.StringVar(&opts.uploads, "uploads", filepath.Join("data", "uploads"), "directory for uploaded files")
	flags.StringVar(&opts.jwtSecret, "jwt-secret", "", "token signing secret (env NEARCHAT_JWT_SECRET)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flags.Float64Var(&opts.rate, "rate", 10, "websocket frames per second per connection")
	flags.IntVar(&opts.burst, "burst", 20, "websocket frame burst per connection")
	return cmd
}

func serve(parent context.Context, opts serverOptions) error {
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "devserver")

	if opts.jwtSecret == "" {
		return errors.New("a jwt secret is required (--jwt-secret or NEARCHAT_JWT_SECRET)")
	}

	db, err := store.Open(opts.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	api := handler.NewAPI(handler.Options{
		Store:      db,
		JWT:        auth.NewJWTManager(opts.jwtSecret, auth.DefaultTokenTTL),
		Rooms:      room.NewManager(ctx, nil),
		UploadsDir: opts.uploads,
		Registry:   reg,
		RateLimit:  opts.rate,
		RateBurst:  opts.burst,
	})

	srv := &http.Server{
		Handler:           api.Router(),
		Addr:              opts.addr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", opts.addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exiting")
	return nil
}

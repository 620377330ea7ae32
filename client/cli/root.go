package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nearchat/client/api"
	"nearchat/client/config"
	"nearchat/client/logging"
	"nearchat/client/metrics"
	"nearchat/client/notify"
	"nearchat/client/session"
	"nearchat/client/store"
)

// Build information, set via -ldflags
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

// Streams are the standard streams commands read from and print to
type Streams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// env is built once per invocation before any command that talks to the
// backend runs.
type env struct {
	streams Streams

	configPath string
	verbose    bool
	overrides  struct {
		apiURL, wsURL, proxy, dataDir, logLevel string
	}

	cfg       config.Config
	store     *store.Store
	client    *api.Client
	app       *session.App
	notifier  notify.Notifier
	metrics   *metrics.Collector
	logCloser io.Closer
	log       *logrus.Entry

	stateMu sync.Mutex
	onState func(connected bool)
}

// watchState routes realtime connection changes to fn until the returned
// func is called. Only one watcher is kept.
func (e *env) watchState(fn func(connected bool)) func() {
	e.stateMu.Lock()
	e.onState = fn
	e.stateMu.Unlock()
	return func() {
		e.stateMu.Lock()
		e.onState = nil
		e.stateMu.Unlock()
	}
}

func (e *env) stateChanged(connected bool) {
	e.stateMu.Lock()
	fn := e.onState
	e.stateMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// Run executes one command line and releases everything it opened.
func Run(ctx context.Context, args []string, streams Streams) error {
	e := &env{streams: streams}
	root := newRootCommand(e)
	root.SetArgs(args)
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.ErrOut)
	defer e.close()
	return root.ExecuteContext(ctx)
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "nearchat",
		Short:         "NearChat - campus chat from the terminal",
		Long:          "NearChat is a command line client for the NearChat service: one shared chat room,\nnearby students, profiles and photos.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return e.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&e.configPath, "config", config.DefaultPath(), "configuration file")
	flags.StringVar(&e.overrides.apiURL, "api-url", "", "REST API base URL")
	flags.StringVar(&e.overrides.wsURL, "ws-url", "", "realtime websocket URL (default: derived from --api-url)")
	flags.StringVar(&e.overrides.proxy, "proxy", "", "http(s) or socks5 proxy URL")
	flags.StringVar(&e.overrides.dataDir, "data-dir", "", "directory holding the local store")
	flags.StringVar(&e.overrides.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		versionCommand(),
		loginCommand(e),
		registerCommand(e),
		verifyCommand(e),
		sendCodeCommand(e),
		logoutCommand(e),
		whoamiCommand(e),
		passwordCommand(e),
		chatCommand(e),
		nearbyCommand(e),
		photosCommand(e),
		profileCommand(e),
		premiumCommand(e),
		soakCommand(e),
	)
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "NearChat CLI\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Git Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		},
	}
}

func (e *env) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	override := func(name, value string, dst *string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	override("api-url", e.overrides.apiURL, &cfg.APIURL)
	override("proxy", e.overrides.proxy, &cfg.Proxy)
	override("data-dir", e.overrides.dataDir, &cfg.DataDir)
	override("log-level", e.overrides.logLevel, &cfg.Log.Level)
	if flags.Changed("ws-url") {
		cfg.WSURL = e.overrides.wsURL
	} else if flags.Changed("api-url") {
		cfg.WSURL = config.DeriveWSURL(cfg.APIURL)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg

	closer, err := logging.Setup(cfg.Log, e.verbose)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	e.logCloser = closer
	e.log = logrus.WithField("component", "cli")

	st, err := store.Open(cfg.DataDir, logrus.WithField("component", "store"))
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	e.store = st

	transport, err := api.NewTransport(cfg.Proxy)
	if err != nil {
		return err
	}
	client, err := api.New(api.Options{
		BaseURL: cfg.APIURL,
		Proxy:   cfg.Proxy,
		Tokens:  st,
		Log:     logrus.WithField("component", "api"),
	})
	if err != nil {
		return err
	}
	e.client = client

	e.notifier = notify.NewWriter(e.streams.ErrOut, logrus.WithField("component", "notify"))
	e.metrics = metrics.NewCollector()
	e.app = session.NewApp(client, st, session.Deps{
		WSURL:          cfg.WSURL,
		Transport:      transport,
		Recent:         st,
		Metrics:        e.metrics,
		Notifier:       e.notifier,
		Log:            logrus.WithField("component", "session"),
		WindowCapacity: cfg.WindowCapacity,
		PollInterval:   cfg.PollInterval,
		MaxRetries:     cfg.MaxRetries,
		OnStateChange:  e.stateChanged,
	})
	return nil
}

func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close local store")
		}
	}
	if e.logCloser != nil {
		e.logCloser.Close()
	}
}

// requireUser resolves the stored token into the signed-in user.
func (e *env) requireUser(ctx context.Context) error {
	if e.app.Bootstrap(ctx) != session.RouteHome {
		return fmt.Errorf("%w: run `nearchat login` first", session.ErrNotAuthenticated)
	}
	return nil
}

// openSession starts the realtime connection of a fresh session and waits
// until it is up. stop ends the session and waits for it to wind down.
func (e *env) openSession(ctx context.Context) (s *session.Session, stop func(), err error) {
	if err := e.requireUser(ctx); err != nil {
		return nil, nil, err
	}
	s, err = e.app.Open(ctx)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	stop = func() {
		cancel()
		<-done
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(15 * time.Second)
	for !s.Realtime.Connected() {
		select {
		case err := <-done:
			cancel()
			return nil, nil, fmt.Errorf("realtime connection failed: %w", err)
		case <-deadline:
			stop()
			return nil, nil, fmt.Errorf("realtime connection to %s timed out", e.cfg.WSURL)
		case <-ctx.Done():
			stop()
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return s, stop, nil
}

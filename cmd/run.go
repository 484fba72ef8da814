package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ibetin/wabot/internal/bridge"
	"github.com/ibetin/wabot/internal/config"
	"github.com/ibetin/wabot/internal/engine"
	"github.com/ibetin/wabot/internal/journal"
	"github.com/ibetin/wabot/internal/mdns"
	"github.com/ibetin/wabot/internal/metrics"
	"github.com/ibetin/wabot/internal/responder"
	"github.com/ibetin/wabot/internal/server"
	"github.com/ibetin/wabot/internal/session"
	"github.com/ibetin/wabot/internal/supervisor"
)

// shutdownTimeout bounds draining HTTP requests and in-flight replies.
const shutdownTimeout = 5 * time.Second

// runFlags mirrors config.Config for the command line. Only flags the
// user actually passed override the loaded config.
type runFlags struct {
	Config              string
	Port                int
	ListenHost          string
	BridgeURL           string
	ClientID            string
	DataPath            string
	ReconnectDelayMs    int
	ReconnectPolicy     string
	ReconnectMaxDelayMs int
	ReplyMode           string
	TriggerPhrase       string
	ReplyText           string
	ReplyTimeoutMs      int
	JournalPath         string
	NoJournal           bool
	MetricsAddr         string
	Mdns                bool
	LogFile             string
}

func (f *runFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&f.Config, "config", "", "Path to config file (default: ~/.wabot/config.toml)")
	fs.IntVar(&f.Port, "port", config.DefaultPort, "Status page port (env PORT)")
	fs.StringVar(&f.ListenHost, "host", config.DefaultListenHost, "Status page listen host")
	fs.StringVar(&f.BridgeURL, "bridge-url", config.DefaultBridgeURL, "Session engine WebSocket URL")
	fs.StringVar(&f.ClientID, "client-id", config.DefaultClientID, "Engine session client ID")
	fs.StringVar(&f.DataPath, "data-path", config.DefaultDataPath, "Engine session data path")
	fs.IntVar(&f.ReconnectDelayMs, "reconnect-delay-ms", config.DefaultReconnectDelayMs, "Delay before re-initializing after a disconnect")
	fs.StringVar(&f.ReconnectPolicy, "reconnect-policy", config.PolicyFixed, "Reconnect policy: fixed or exponential")
	fs.IntVar(&f.ReconnectMaxDelayMs, "reconnect-max-delay-ms", config.DefaultReconnectMaxDelayMs, "Upper bound for the exponential policy")
	fs.StringVar(&f.ReplyMode, "reply-mode", config.DefaultReplyMode, "Reply mode: trigger or always")
	fs.StringVar(&f.TriggerPhrase, "trigger", config.DefaultTriggerPhrase, "Message that triggers the reply (case-insensitive)")
	fs.StringVar(&f.ReplyText, "reply-text", config.DefaultReplyText, "Reply text; {sender} is replaced with the sender ID")
	fs.IntVar(&f.ReplyTimeoutMs, "reply-timeout-ms", config.DefaultReplyTimeoutMs, "Timeout for a single reply")
	fs.StringVar(&f.JournalPath, "journal", "", "Journal database path (default: ~/.wabot/journal.db)")
	fs.BoolVar(&f.NoJournal, "no-journal", false, "Disable the lifecycle journal")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve /metrics, /live and /ready on this address")
	fs.BoolVar(&f.Mdns, "mdns", false, "Advertise the status page via mDNS (LAN-visible)")
	fs.StringVar(&f.LogFile, "log-file", "", "Append logs to this file instead of stderr")
}

// apply copies the flag called name onto cfg.
func (f *runFlags) apply(name string, cfg *config.Config) {
	switch name {
	case "port":
		cfg.Port = f.Port
	case "host":
		cfg.ListenHost = f.ListenHost
	case "bridge-url":
		cfg.BridgeURL = f.BridgeURL
	case "client-id":
		cfg.ClientID = f.ClientID
	case "data-path":
		cfg.DataPath = f.DataPath
	case "reconnect-delay-ms":
		cfg.ReconnectDelayMs = f.ReconnectDelayMs
	case "reconnect-policy":
		cfg.ReconnectPolicy = f.ReconnectPolicy
	case "reconnect-max-delay-ms":
		cfg.ReconnectMaxDelayMs = f.ReconnectMaxDelayMs
	case "reply-mode":
		cfg.ReplyMode = f.ReplyMode
	case "trigger":
		cfg.TriggerPhrase = f.TriggerPhrase
	case "reply-text":
		cfg.ReplyText = f.ReplyText
	case "reply-timeout-ms":
		cfg.ReplyTimeoutMs = f.ReplyTimeoutMs
	case "journal":
		cfg.JournalPath = f.JournalPath
	case "no-journal":
		cfg.JournalDisabled = f.NoJournal
	case "metrics-addr":
		cfg.MetricsAddr = f.MetricsAddr
	case "mdns":
		cfg.MdnsEnabled = f.Mdns
	case "log-file":
		cfg.LogFile = f.LogFile
	}
}

// loadRunConfig parses args and layers explicit flags over the file and
// environment. It returns flag.ErrHelp for --help.
func loadRunConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f runFlags
	f.bind(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: wabot run [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := config.Load(f.Config)
	if err != nil {
		return nil, err
	}

	// Visit only walks flags that were set, so defaults on the FlagSet
	// never clobber file or env values.
	fs.Visit(func(fl *flag.Flag) {
		f.apply(fl.Name, cfg)
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRecoveryPolicy builds the backoff for cfg. Neither policy ever
// returns backoff.Stop.
func newRecoveryPolicy(cfg *config.Config) backoff.BackOff {
	if cfg.ReconnectPolicy == config.PolicyExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.ReconnectDelay()
		b.MaxInterval = cfg.ReconnectMaxDelay()
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(cfg.ReconnectDelay())
}

// app is one running supervisor with everything wired around it.
type app struct {
	cfg *config.Config

	state      *session.State
	bridge     *bridge.Bridge
	supervisor *supervisor.Supervisor
	responder  *responder.Responder

	status     *server.Server
	metricsSrv *server.Server
	journal    *journal.Store
	advertiser *mdns.Advertiser

	cancel context.CancelFunc
}

// newApp wires the components for cfg. Nothing listens or dials until start.
func newApp(cfg *config.Config, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:   cfg,
		state: session.NewState(session.Options{}),
	}

	var (
		lifecycleObservers []supervisor.Observer
		replyObservers     []responder.OutcomeObserver
	)

	if !cfg.JournalDisabled {
		path := cfg.JournalPath
		if path == "" {
			p, err := config.DefaultJournalPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			fmt.Fprintf(stderr, "Warning: journal disabled: %v\n", err)
		} else if store, err := journal.Open(path, journal.Options{}); err != nil {
			// The journal is an observer; the bot runs without it.
			fmt.Fprintf(stderr, "Warning: journal disabled: %v\n", err)
		} else {
			a.journal = store
			lifecycleObservers = append(lifecycleObservers, store)
			replyObservers = append(replyObservers, store)
		}
	}

	if cfg.MetricsAddr != "" {
		m := metrics.New(a.state)
		lifecycleObservers = append(lifecycleObservers, m)
		replyObservers = append(replyObservers, m)
		a.metricsSrv = server.New("metrics", cfg.MetricsAddr, m.Handler())
	}

	a.bridge = bridge.New(bridge.Config{
		URL:      cfg.BridgeURL,
		ClientID: cfg.ClientID,
		DataPath: cfg.DataPath,
	})

	a.supervisor = supervisor.New(a.state, a.bridge, supervisor.Options{
		Policy:    newRecoveryPolicy(cfg),
		Observers: lifecycleObservers,
	})

	policy, ok := responder.NewPolicy(cfg.ReplyMode, cfg.TriggerPhrase, cfg.ReplyText)
	if !ok {
		a.closeJournal()
		return nil, fmt.Errorf("unknown reply mode %q", cfg.ReplyMode)
	}
	a.responder = responder.New(a.bridge, policy, responder.Options{
		Timeout:   cfg.ReplyTimeout(),
		Observers: replyObservers,
	})

	a.bridge.Register(engine.Combine(a.supervisor, a.responder))

	a.status = server.New("status", cfg.Addr(), server.NewStatusMux(server.NewStatusHandler(a.state)))

	if cfg.MdnsEnabled {
		a.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:     cfg.Port,
			ClientID: cfg.ClientID,
			Version:  Version,
		})
	}
	return a, nil
}

// start opens the listeners and kicks off the first initialize. The
// initialize runs in the background so a slow sidecar never delays the
// status page.
func (a *app) start(stdout, stderr io.Writer) error {
	if err := <-a.status.StartAsync(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Server running on port %d\n", a.cfg.Port)

	if a.metricsSrv != nil {
		if err := <-a.metricsSrv.StartAsync(); err != nil {
			a.status.Shutdown(context.Background())
			return err
		}
		fmt.Fprintf(stdout, "Metrics and health probes on %s\n", a.metricsSrv.Addr())
	}

	if a.advertiser != nil {
		if err := a.advertiser.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to start mDNS discovery: %v\n", err)
		} else {
			fmt.Fprintln(stdout, "mDNS discovery: ENABLED (visible on LAN)")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.supervisor.Startup(ctx)
	return nil
}

// stop tears everything down in reverse order of creation.
func (a *app) stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.supervisor.Close()
	if err := a.bridge.Close(); err != nil {
		log.Printf("bridge: close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	replies := make(chan struct{})
	go func() {
		a.responder.Wait()
		close(replies)
	}()
	select {
	case <-replies:
	case <-ctx.Done():
		log.Printf("responder: gave up waiting for in-flight replies")
	}

	if a.advertiser != nil {
		a.advertiser.Stop()
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Shutdown(ctx)
	}
	a.status.Shutdown(ctx)
	a.closeJournal()
}

func (a *app) closeJournal() {
	if a.journal != nil {
		a.journal.Close()
		a.journal = nil
	}
}

func runServe(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadRunConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create log directory: %v\n", err)
			return 1
		}
		logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		defer log.SetOutput(os.Stderr)
	}

	a, err := newApp(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := a.start(stdout, stderr); err != nil {
		a.closeJournal()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
	a.stop()
	return 0
}

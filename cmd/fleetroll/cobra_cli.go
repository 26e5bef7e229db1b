package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fleetroll/fleetroll/pkg/audit"
	"github.com/fleetroll/fleetroll/pkg/command"
	"github.com/fleetroll/fleetroll/pkg/config"
	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/frontend"
	"github.com/fleetroll/fleetroll/pkg/health"
	"github.com/fleetroll/fleetroll/pkg/hostlist"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
	"github.com/fleetroll/fleetroll/pkg/observability"
	"github.com/fleetroll/fleetroll/pkg/rbac"
	"github.com/fleetroll/fleetroll/pkg/resilience"
	"github.com/fleetroll/fleetroll/pkg/rollout"
	"github.com/fleetroll/fleetroll/pkg/transport"
	"github.com/fleetroll/fleetroll/pkg/tui"
)

var version = "dev"

// ------------------------------------------------------------------
// Global flags
// ------------------------------------------------------------------

var (
	flagDebug      bool
	flagConfigPath string
)

func getConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fleetroll")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ------------------------------------------------------------------
// Root command
// ------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetroll",
		Short: "fleetroll — a rolling deploy orchestrator",
		Long: `fleetroll runs an ordered sequence of remote commands across a fleet of
hosts with bounded parallelism, controlled pacing, interactive pause points,
and lifecycle notifications fanned out over an event bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", filepath.Join(getConfigDir(), "config.yaml"), "path to the fleetroll config file")

	root.AddCommand(
		newDeployCmd(),
		newAgentCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the fleetroll version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fleetroll " + version)
		},
	}
}

// ------------------------------------------------------------------
// `fleetroll deploy` — run a rolling deploy
// ------------------------------------------------------------------

func newDeployCmd() *cobra.Command {
	var (
		flagComponents   []string
		flagRestart      string
		flagStartAt      string
		flagStopBefore   string
		flagInteractive  bool
		flagUser         string
		flagRBAC         bool
		flagMetricsAddr  string
		flagHealthAddr   string
	)

	cmd := &cobra.Command{
		Use:   "deploy <host-or-alias-ref>...",
		Short: "roll a command sequence out across the resolved host list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, refs []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := newLogger()

			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}

			bus := eventbus.New(logger)

			hostSource, err := hostsource.New(hostSourceConfig(cfg), logger)
			if err != nil {
				return fmt.Errorf("build host source: %w", err)
			}

			fleet, err := hostSource.GetHosts(ctx)
			if err != nil {
				return fmt.Errorf("list fleet: %w", err)
			}

			resolved, err := hostlist.Resolve(refs, cfg.AliasTable(), fleet)
			if err != nil {
				return fmt.Errorf("resolve host refs: %w", err)
			}
			restricted, err := hostlist.Restrict(resolved, flagStartAt, flagStopBefore)
			if err != nil {
				return fmt.Errorf("restrict host list: %w", err)
			}
			ordered := hostlist.Order(restricted)
			if len(ordered) == 0 {
				return fmt.Errorf("no hosts matched %v", refs)
			}

			tp, err := transportFor(cfg, logger)
			if err != nil {
				return fmt.Errorf("build transport: %w", err)
			}
			closeTransport, err := serveWSIfNeeded(cfg, tp, logger)
			if err != nil {
				return err
			}
			if closeTransport != nil {
				defer closeTransport()
			}

			// RBAC: deny by default once enabled; a lone operator running
			// fleetroll from their own terminal is the common case, so it's
			// off unless explicitly requested.
			guard := rbac.NewDeployGuard(nil, false)
			if flagRBAC {
				enforcer := rbac.NewEnforcer(rbac.NewStructuredAuditLogger(0))
				enforcer.RegisterUser(&rbac.User{ID: rbac.UserID(flagUser), Roles: []rbac.RoleName{"operator"}})
				guard = rbac.NewDeployGuard(enforcer, true)
			}
			poolsTouched := distinctPools(ordered)
			for _, pool := range poolsTouched {
				if err := guard.CheckTrigger(ctx, rbac.UserID(flagUser), pool); err != nil {
					return err
				}
			}

			auditStore := audit.NewFileStore(filepath.Join(getConfigDir(), "audit"))
			auditLogger := audit.NewLogger(auditStore, flagUser)
			audit.Wire(bus, auditLogger)

			registry := prometheus.NewRegistry()
			metrics := observability.New(registry)
			observability.Wire(bus, metrics)
			stopMetrics := serveMetrics(flagMetricsAddr, registry, logger)
			if stopMetrics != nil {
				defer stopMetrics()
			}

			engine := rollout.New(hostSource, tp, bus, rolloutConfig(cfg), logger)

			healthSrv := newHealthServer(flagHealthAddr)
			if healthSrv != nil {
				healthSrv.Start()
				defer healthSrv.Stop(context.Background())
				wireHealth(bus, healthSrv)
				healthSrv.RegisterCheck("codehost-circuit", func() (bool, string) {
					state := engine.CircuitBreakerState()
					return state != resilience.CircuitOpen, fmt.Sprintf("circuit breaker: %s", state)
				})
			}

			commands := buildCommands(flagRestart)

			initial := initialStrategy(poolsTouched)
			_, teardown := wireFrontend(bus, ordered, flagInteractive, initial)
			if teardown != nil {
				defer teardown()
			}

			return engine.RunDeploy(ctx, ordered, flagComponents, commands)
		},
	}

	cmd.Flags().StringSliceVar(&flagComponents, "components", nil, "components to synchronize/build before rollout")
	cmd.Flags().StringVar(&flagRestart, "restart", "", "restart target to run after deploy, if any")
	cmd.Flags().StringVar(&flagStartAt, "start-at", "", "skip hosts before this one in the resolved order")
	cmd.Flags().StringVar(&flagStopBefore, "stop-before", "", "stop resolving hosts once this one is reached")
	cmd.Flags().BoolVar(&flagInteractive, "interactive", false, "use the Bubble Tea dashboard instead of line output")
	cmd.Flags().StringVar(&flagUser, "user", os.Getenv("USER"), "identity attributed to audit log entries and RBAC checks")
	cmd.Flags().BoolVar(&flagRBAC, "rbac", false, "enforce RBAC checks before triggering the deploy")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	cmd.Flags().StringVar(&flagHealthAddr, "health-addr", "", "address to serve /health and /ready on, e.g. :8080 (disabled if empty)")
	return cmd
}

func buildCommands(restart string) []command.Command {
	if restart == "" {
		return nil
	}
	return []command.Command{command.NewRestart(restart)}
}

func distinctPools(hosts []hostsource.Host) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range hosts {
		if !seen[h.Pool] {
			seen[h.Pool] = true
			out = append(out, h.Pool)
		}
	}
	return out
}

// initialStrategy picks the pause strategy a deploy starts under: FirstHost
// when the plan spans more than one pool (so the very first host gets its
// own confirmation before canary coverage is even possible), Canary when
// there's only one pool and the first host already *is* that pool's canary.
func initialStrategy(pools []string) frontend.Strategy {
	if len(pools) > 1 {
		return frontend.FirstHost{}
	}
	return frontend.Canary{}
}

func hostSourceConfig(cfg *config.Config) hostsource.Config {
	out := hostsource.Config{
		Backend:    cfg.HostSource.Backend,
		DataDir:    getConfigDir(),
		SQLitePath: cfg.HostSource.SQLitePath,
	}
	if cfg.HostSource.Backend == "postgres" {
		out.Postgres = &hostsource.PostgresConfig{
			Host:     cfg.HostSource.Postgres.Host,
			Port:     cfg.HostSource.Postgres.Port,
			User:     cfg.HostSource.Postgres.User,
			Password: cfg.HostSource.Postgres.Password,
			Database: cfg.HostSource.Postgres.Database,
			SSLMode:  cfg.HostSource.Postgres.SSLMode,
		}
	}
	return out
}

func rolloutConfig(cfg *config.Config) rollout.Config {
	return rollout.Config{
		Parallelism:     cfg.Parallelism,
		Sleep:           cfg.Sleep(),
		Timeout:         cfg.Timeout(),
		DangerouslyFast: cfg.DangerouslyFast,
		CodeHost:        cfg.CodeHost,
	}
}

func transportFor(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	tcfg := transport.Config{Kind: cfg.Transport.Kind, Binary: cfg.Transport.Binary}
	if cfg.Transport.Kind == "ws" {
		tcfg.WS = transport.WSServerConfig{ListenAddr: cfg.Transport.Binary}
		if cfg.Transport.MTLS.CACertFile != "" {
			tcfg.MTLS = &transport.MTLSConfig{
				CACertFile:     cfg.Transport.MTLS.CACertFile,
				ClientCertFile: cfg.Transport.MTLS.ClientCertFile,
				ClientKeyFile:  cfg.Transport.MTLS.ClientKeyFile,
				ServerName:     cfg.Transport.MTLS.ServerName,
			}
		}
	}
	return transport.New(tcfg, logger)
}

// serveWSIfNeeded starts the HTTP listener that upgrades incoming node
// connections into WS tunnels when tp is a *transport.WSServer. Returns a
// shutdown func, or nil for every other transport kind.
func serveWSIfNeeded(cfg *config.Config, tp transport.Transport, logger *slog.Logger) (func(), error) {
	wsServer, ok := tp.(*transport.WSServer)
	if !ok {
		return nil, nil
	}
	addr := cfg.Transport.Binary
	if addr == "" {
		addr = ":9443"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/agent/connect", func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if err := wsServer.Upgrade(w, r, address); err != nil {
			logger.Error("ws agent upgrade failed", "error", err)
		}
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ws relay listener stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) func() {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(gatherer))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener stopped", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func newHealthServer(addr string) *health.Server {
	if addr == "" {
		return nil
	}
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	return health.NewServer(host, port)
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid address %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

// wireHealth flips readiness on deploy.begin/end/abort: a fleetroll process
// is only "ready" while a deploy is actually in flight and accepting the
// operator's pause-point decisions.
func wireHealth(bus *eventbus.Bus, srv *health.Server) {
	bus.Register("deploy.begin", func(_ context.Context, _ eventbus.Payload) error {
		srv.SetReady(true)
		return nil
	})
	bus.Register("deploy.end", func(_ context.Context, _ eventbus.Payload) error {
		srv.SetReady(false)
		return nil
	})
	bus.Register("deploy.abort", func(_ context.Context, _ eventbus.Payload) error {
		srv.SetReady(false)
		return nil
	})
}

// wireFrontend builds the headless or interactive front-end, wires it to
// bus, and returns a teardown func to run once the deploy finishes.
func wireFrontend(bus *eventbus.Bus, hosts []hostsource.Host, interactive bool, initial frontend.Strategy) (*frontend.Controller, func()) {
	if !interactive {
		lineLogger := frontend.NewLineLogger(os.Stdout, len(hosts))
		frontend.WireLineLogger(bus, lineLogger)
		confirmer := frontend.NewPromptConfirmer(os.Stdin, os.Stdout)
		controller := frontend.NewController(bus, hosts, confirmer, initial, lineLogger.Summary)
		return controller, nil
	}

	dashboard := tui.NewDashboard(hosts)
	prog := tea.NewProgram(dashboard)
	tui.Wire(bus, prog)
	confirmer := tui.NewConfirmer(prog)
	controller := frontend.NewController(bus, hosts, confirmer, initial, func(string) {})

	done := make(chan struct{})
	go func() {
		defer close(done)
		prog.Run()
	}()
	return controller, func() { <-done }
}

// ------------------------------------------------------------------
// `fleetroll agent` — node-side half of the WS transport
// ------------------------------------------------------------------

func newAgentCmd() *cobra.Command {
	var (
		flagRelayURL   string
		flagAddress    string
		flagBinary     string
		flagCACert     string
		flagClientCert string
		flagClientKey  string
		flagServerName string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "dial a fleetroll relay and execute the commands it sends over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var tlsConfig *tls.Config
			if flagCACert != "" {
				cfg, err := transport.ClientTLSConfig(transport.MTLSConfig{
					CACertFile:     flagCACert,
					ClientCertFile: flagClientCert,
					ClientKeyFile:  flagClientKey,
					ServerName:     flagServerName,
				})
				if err != nil {
					return fmt.Errorf("agent mtls: %w", err)
				}
				tlsConfig = cfg
			}

			executor := func(cmdline []string) (map[string]any, error) {
				if flagBinary == "" {
					return map[string]any{}, nil
				}
				return runLocalBinary(ctx, flagBinary, flagAddress, cmdline)
			}

			return transport.DialAgent(ctx, flagRelayURL, flagAddress, tlsConfig, executor)
		},
	}

	cmd.Flags().StringVar(&flagRelayURL, "relay", "", "WebSocket URL of the fleetroll relay, e.g. ws://relay:9443/agent/connect?address=host-1")
	cmd.Flags().StringVar(&flagAddress, "address", "", "address this agent answers to")
	cmd.Flags().StringVar(&flagBinary, "binary", "", "local command-binary to invoke for each received command")
	cmd.Flags().StringVar(&flagCACert, "ca-cert", "", "CA cert file for verifying the relay (enables mTLS)")
	cmd.Flags().StringVar(&flagClientCert, "client-cert", "", "client cert file for agent mTLS")
	cmd.Flags().StringVar(&flagClientKey, "client-key", "", "client key file for agent mTLS")
	cmd.Flags().StringVar(&flagServerName, "server-name", "", "expected TLS server name of the relay")
	cmd.MarkFlagRequired("relay")
	cmd.MarkFlagRequired("address")
	return cmd
}

// runLocalBinary invokes binary as "sudo <binary> <address> <cmdline...>",
// mirroring how the shell transport dispatches commands from the control
// plane side, and decodes its JSON stdout into a result map.
func runLocalBinary(ctx context.Context, binary, address string, cmdline []string) (map[string]any, error) {
	args := append([]string{binary, address}, cmdline...)
	out, err := exec.CommandContext(ctx, "sudo", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", binary, err)
	}
	if len(out) == 0 {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", binary, err)
	}
	return result, nil
}

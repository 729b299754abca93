package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avlonitis/synapse/internal/backend"
	"github.com/avlonitis/synapse/internal/backend/httpgen"
	"github.com/avlonitis/synapse/internal/backend/natsgen"
	"github.com/avlonitis/synapse/internal/capability"
	"github.com/avlonitis/synapse/internal/config"
	"github.com/avlonitis/synapse/internal/mesh"
	"github.com/avlonitis/synapse/internal/natsbridge"
	"github.com/avlonitis/synapse/internal/router"
	"github.com/avlonitis/synapse/internal/scheduler"
	"github.com/avlonitis/synapse/internal/store"
	"github.com/avlonitis/synapse/internal/telegram"
	"github.com/avlonitis/synapse/internal/vault"
	"github.com/avlonitis/synapse/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("synapse %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "export":
		if err := runExport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "import":
		if err := runImport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: synapse <command>

Commands:
  gateway    Start the Synapse gateway service
  vault      Manage encrypted secrets
  export     Archive the data directory to a .tar.zst file
  import     Restore a data archive
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting synapse gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bridge, err := natsbridge.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bridge.Close()
	slog.Info("nats started", "port", bridge.Port())

	client, err := natsbridge.NewClient(bridge)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	// Generation backend
	gen, err := buildGenerator(cfg.Backend, client)
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}

	// Mesh context
	m := mesh.New(mesh.Options{Backend: gen, Recorder: db})
	defer m.Drain()

	// Mirror bus traffic onto NATS for external observers
	natsbridge.Mirror(m.Bus(), client)

	// Spawn the configured node graph
	rtr := router.New(m, cfg.Router)
	rtr.SetGenerator(gen)
	if err := spawnNodes(m, rtr, cfg.Nodes); err != nil {
		return fmt.Errorf("spawn nodes: %w", err)
	}

	// Scheduler with IPC for the stask tool
	sched := scheduler.New(db, rtr, client, cfg.Scheduler)
	if err := sched.ServeIPC(client); err != nil {
		return fmt.Errorf("serve ipc: %w", err)
	}
	go sched.Start(ctx)

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, m, rtr)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go bot.Start(ctx)
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web server
	if cfg.Web.Enabled {
		var v *vault.Vault
		if cfg.Vault.Passphrase != "" {
			v = vault.New(cfg.Vault.Passphrase)
		}
		srv := web.NewServer(db, bridge, m, rtr, cfg.Web, v, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// SIGHUP reloads config; SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			if err := reload(cfg, m, rtr, sched); err != nil {
				slog.Error("config reload failed", "error", err)
			} else {
				slog.Info("config reloaded")
			}
			continue
		}
		slog.Info("shutting down", "signal", sig)
		cancel()
		return nil
	}
}

func buildGenerator(cfg config.BackendConfig, client *natsbridge.Client) (backend.Generator, error) {
	switch cfg.Kind {
	case "nats":
		return natsgen.NewWithTimeout(client.Conn(), cfg.Timeout), nil
	case "http", "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("backend.url is required for the http backend")
		}
		return httpgen.New(cfg.URL, cfg.Model, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// spawnNodes builds the configured node graph: all nodes first, then the
// parent-child edges, so forward references between entries work.
func spawnNodes(m *mesh.Mesh, rtr *router.Router, nodes map[string]config.NodeConfig) error {
	for name, nc := range nodes {
		m.Spawn(name, capability.FromStrings(nc.Capabilities), nc.Role)
		if nc.Description != "" {
			rtr.Describe(name, nc.Description)
		}
	}
	for name, nc := range nodes {
		parent, ok := m.NodeByName(name)
		if !ok {
			continue
		}
		for _, childName := range nc.Children {
			child, ok := m.NodeByName(childName)
			if !ok {
				return fmt.Errorf("node %q lists unknown child %q", name, childName)
			}
			if err := m.Connect(parent.ID, child.ID); err != nil {
				return fmt.Errorf("connect %s -> %s: %w", name, childName, err)
			}
		}
	}
	return nil
}

// reload re-reads the config and applies what can change at runtime.
func reload(old *config.Config, m *mesh.Mesh, rtr *router.Router, sched *scheduler.Scheduler) error {
	fresh, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	diff := config.Diff(old, fresh)
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}

	for _, name := range diff.NodesRemoved {
		if n, ok := m.NodeByName(name); ok {
			if err := m.Retire(n.ID); err != nil {
				slog.Error("retire node failed", "node", name, "error", err)
			}
		}
	}

	added := make(map[string]config.NodeConfig, len(diff.NodesAdded))
	for _, name := range diff.NodesAdded {
		added[name] = fresh.Nodes[name]
	}
	if len(added) > 0 {
		if err := spawnNodes(m, rtr, added); err != nil {
			return err
		}
	}

	for _, name := range diff.NodesChanged {
		nc := fresh.Nodes[name]
		n, ok := m.NodeByName(name)
		if !ok {
			continue
		}
		m.Capabilities().Register(n.ID, capability.FromStrings(nc.Capabilities), map[string]string{"name": name})
		if nc.Role != "" {
			m.Roles().Assign(n.ID, nc.Role)
		}
		rtr.Describe(name, nc.Description)
	}

	if diff.RouterChanged {
		rtr.SetDefaultNode(diff.NewDefaultNode)
	}
	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewPollInterval.PollInterval)
	}

	*old = *fresh
	return nil
}

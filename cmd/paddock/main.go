package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/paddockio/paddock/pkg/api"
	"github.com/paddockio/paddock/pkg/config"
	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/manager"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/types"
	"github.com/paddockio/paddock/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "paddock",
	Short: "Paddock - Multi-tenant agent-run control plane",
	Long: `Paddock schedules, budgets and records agent runs for many tenants on
shared model capacity. It admits work against per-tenant rate windows,
dispatches it fairly by priority, drives each run step by step under a
cost budget with graceful tier degradation, and keeps a durable,
idempotent ledger of everything that happened.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Paddock version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(keyCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Run the Paddock control plane: the admission queue, the run dispatcher,
the provider-job poller and the HTTP API, backed by a single embedded
ledger. Flags override the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
			cfg.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("worker-endpoint"); v != "" {
			cfg.WorkerEndpoint = v
		}
		if cfg.WorkerEndpoint == "" {
			return fmt.Errorf("worker endpoint is required (--worker-endpoint or worker_endpoint in config)")
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
		metrics.SetVersion(Version)

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data dir: %v", err)
		}

		mgr, err := manager.New(cfg, worker.NewHTTPWorker(cfg.WorkerEndpoint))
		if err != nil {
			return fmt.Errorf("failed to create manager: %v", err)
		}
		if err := mgr.Start(); err != nil {
			return fmt.Errorf("failed to start manager: %v", err)
		}

		apiServer := api.NewServer(mgr)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(cfg.ListenAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()

		fmt.Printf("Paddock is running on %s. Press Ctrl+C to stop.\n", cfg.ListenAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := apiServer.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown error: %v\n", err)
		}
		mgr.Stop()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("listen-addr", "", "Address for the HTTP API")
	serveCmd.Flags().String("data-dir", "", "Data directory for the ledger")
	serveCmd.Flags().String("worker-endpoint", "", "Upstream model worker address")
}

// openManager opens the ledger for offline admin commands. The server must
// not be running against the same data dir (the ledger takes an exclusive
// lock).
func openManager(cmd *cobra.Command) (*manager.Manager, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	log.Init(log.Config{Level: log.ErrorLevel})
	return manager.New(cfg, nil)
}

// Tenant commands
var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Store().Close()

		tier, _ := cmd.Flags().GetString("tier")
		tenant, err := mgr.CreateTenant(args[0], types.TenantTier(tier))
		if err != nil {
			return fmt.Errorf("failed to create tenant: %v", err)
		}

		fmt.Printf("✓ Created tenant %s\n", tenant.ID)
		fmt.Printf("  Name: %s\n", tenant.Name)
		fmt.Printf("  Tier: %s\n", tenant.Tier)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Store().Close()

		tenants, err := mgr.Store().ListTenants()
		if err != nil {
			return fmt.Errorf("failed to list tenants: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTIER\tSTATUS")
		for _, t := range tenants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Tier, t.Status)
		}
		return w.Flush()
	},
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantListCmd)

	tenantCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	tenantCmd.PersistentFlags().String("data-dir", "", "Data directory for the ledger")
	tenantCreateCmd.Flags().String("tier", "free", "Tenant tier (free, standard, enterprise)")
}

// API key commands
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an API key for a tenant",
	Long: `Create an API key. The plaintext token is printed exactly once; only
its hash is stored. An optional role binds the key into the policy
engine (admin, operator or viewer).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		scopes, _ := cmd.Flags().GetString("scopes")
		role, _ := cmd.Flags().GetString("role")

		mgr, err := openManager(cmd)
		if err != nil {
			return err
		}
		defer mgr.Store().Close()

		if _, err := mgr.Store().GetTenant(tenantID); err != nil {
			return fmt.Errorf("tenant not found: %v", err)
		}

		key, token, err := mgr.Auth().CreateKey(tenantID, args[0], splitScopes(scopes), time.Time{})
		if err != nil {
			return fmt.Errorf("failed to create key: %v", err)
		}
		if role != "" {
			if err := mgr.BindRole(tenantID, key.ID, role); err != nil {
				return fmt.Errorf("failed to bind role: %v", err)
			}
		}

		fmt.Printf("✓ Created API key %s\n", key.ID)
		fmt.Printf("  Prefix: %s\n", key.Prefix)
		fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes, ", "))
		if role != "" {
			fmt.Printf("  Role: %s\n", role)
		}
		fmt.Println()
		fmt.Printf("Token (shown once): %s\n", token)
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyCreateCmd)

	keyCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	keyCmd.PersistentFlags().String("data-dir", "", "Data directory for the ledger")
	keyCreateCmd.Flags().String("tenant", "", "Tenant ID the key belongs to")
	keyCreateCmd.Flags().String("scopes", "runs:submit,runs:read,runs:cancel,usage:read", "Comma-separated scopes")
	keyCreateCmd.Flags().String("role", "operator", "Role to bind the key to (empty for none)")
}

func splitScopes(s string) []string {
	var scopes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}

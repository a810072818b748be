package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/entgraph/discovery/internal/admin"
	"github.com/entgraph/discovery/internal/config"
	"github.com/entgraph/discovery/internal/events"
	"github.com/entgraph/discovery/internal/providers"
	"github.com/entgraph/discovery/internal/scheduler"
	"github.com/entgraph/discovery/internal/util"
	"github.com/entgraph/discovery/pkg/graph"
	"github.com/entgraph/discovery/pkg/leaselock"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/logger/console"
	"github.com/entgraph/discovery/pkg/provider"
)

var (
	flagConfig       string
	flagConfigSource string
	flagDebug        bool

	flagOneshot   bool
	flagProviders []string
)

func main() {
	root := &cobra.Command{
		Use:           "discovery",
		Short:         "Continuous entity discovery and graph reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "configuration location (file path, s3:// URI or API base URL)")
	root.PersistentFlags().StringVar(&flagConfigSource, "config-source", "", "configuration source type: file, s3 or api (detected when empty)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run the reconciliation engine",
		RunE:  runDiscover,
	}
	discoverCmd.Flags().BoolVar(&flagOneshot, "oneshot", false, "run every provider once and exit")
	discoverCmd.Flags().StringSliceVar(&flagProviders, "providers", nil, "only run the named providers")

	root.AddCommand(discoverCmd)
	root.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List the configured providers",
		RunE:  runProviders,
	})
	root.AddCommand(&cobra.Command{
		Use:   "definitions",
		Short: "Register every configured provider's entity definitions and exit",
		RunE:  runDefinitions,
	})

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*config.Config, []provider.Provider, error) {
	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  flagDebug || util.GetEnvBool("DEBUG", false),
		Prefix: "discovery",
	}))

	cfg, err := config.Load(ctx, flagConfigSource, flagConfig)
	if err != nil {
		return nil, nil, err
	}

	built := providers.Build(providers.DefaultRegistry(), cfg.Discovery.Providers)
	return cfg, built, nil
}

func selectProviders(built []provider.Provider, names []string) ([]provider.Provider, error) {
	if len(names) == 0 {
		return built, nil
	}

	byName := map[string]provider.Provider{}
	for _, p := range built {
		byName[p.Name()] = p
	}

	out := make([]provider.Provider, 0, len(names))
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no configured provider named %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, built, err := setup(ctx)
	if err != nil {
		return err
	}

	selected, err := selectProviders(built, flagProviders)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("no providers to run")
	}

	client, err := graph.NewClient(graph.NewClientParams{
		BaseURL:     cfg.Discovery.APIBaseURL,
		APIKey:      cfg.Discovery.OpaqueToken,
		Environment: cfg.Discovery.Environment,
	})
	if err != nil {
		return err
	}

	params := scheduler.Params{
		Client:    client,
		Providers: selected,
	}

	if cfg.Lock.DatabaseURL != "" {
		if err := leaselock.Migrate(cfg.Lock.DatabaseURL); err != nil {
			return fmt.Errorf("provision lock table: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Lock.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to lock database: %w", err)
		}
		defer pool.Close()
		params.Lease = leaselock.New(pool)
	}

	if cfg.Events.URL != "" {
		publisher, err := events.NewPublisher(ctx, cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		params.Events = publisher
	}

	orchestrator := scheduler.New(params)
	orchestrator.RegisterDefinitions(ctx)

	if flagOneshot {
		return orchestrator.RunOnce(ctx)
	}

	if cfg.Admin.Addr != "" {
		reload := func(ctx context.Context) ([]provider.Provider, error) {
			fresh, err := config.Load(ctx, flagConfigSource, flagConfig)
			if err != nil {
				return nil, err
			}
			return providers.Build(providers.DefaultRegistry(), fresh.Discovery.Providers), nil
		}
		server := admin.NewServer(orchestrator, reload, cfg.Admin.APIKey)
		go server.Start(ctx, cfg.Admin.Addr)
	}

	return orchestrator.Run(ctx)
}

func runProviders(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, built, err := setup(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tNAMESPACE\tEVERY\tSHAPE\tKINDS")
	for _, p := range built {
		kinds := ""
		for i, def := range p.Definitions() {
			if i > 0 {
				kinds += ","
			}
			kinds += def.Kind
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name(), p.Namespace(), p.Interval(), provider.ShapeOf(p), kinds)
	}
	return w.Flush()
}

func runDefinitions(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, built, err := setup(ctx)
	if err != nil {
		return err
	}

	client, err := graph.NewClient(graph.NewClientParams{
		BaseURL:     cfg.Discovery.APIBaseURL,
		APIKey:      cfg.Discovery.OpaqueToken,
		Environment: cfg.Discovery.Environment,
	})
	if err != nil {
		return err
	}

	orchestrator := scheduler.New(scheduler.Params{Client: client, Providers: built})
	orchestrator.RegisterDefinitions(ctx)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"affiliates/internal/affiliate"
	"affiliates/internal/app"
	"affiliates/internal/config"
	"affiliates/internal/db"
	"affiliates/internal/domain"
	"affiliates/internal/engine/auth"
	"affiliates/internal/orderfeed"
	"affiliates/internal/render"
	"affiliates/internal/repo"
	"affiliates/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "affiliates",
	Short: "Affiliate network dispatch",
	Long: `affiliates reports e-commerce orders to affiliate networks.
- Track: on checkout completion every enabled affiliate builds a tracking pixel (img or iframe) for the order.
- Cancel: when an order is canceled or refunded, networks with a remote api are told to reject the conversion.
- Affiliates: one config per network account (custom HTML, Conversant CJ, HasOffers, Webgains), stored in the workspace database or declared in affiliates.yml.
- Rules: JSONLogic expressions in affiliates.yml that suppress affiliates for matching orders.
- Dispatch log: every adapter invocation is recorded, view it with 'affiliates dispatch log'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AFFILIATES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default <workspace>/affiliates.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(affiliateCmd())
	rootCmd.AddCommand(trackCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consumeCmd())
}

func affiliateCmd() *cobra.Command {
	aff := &cobra.Command{
		Use:   "affiliate",
		Short: "Manage affiliate configs",
		Long:  "An affiliate config binds one network kind to account settings. Configs are dispatched in weight order; disabled configs are kept but skipped.",
	}
	aff.AddCommand(affiliateListCmd())
	aff.AddCommand(affiliateShowCmd())
	aff.AddCommand(affiliateKindsCmd())
	aff.AddCommand(affiliateSetCmd())
	aff.AddCommand(affiliateEnableCmd(true))
	aff.AddCommand(affiliateEnableCmd(false))
	aff.AddCommand(affiliateDeleteCmd())
	aff.AddCommand(affiliateImportCmd())
	return aff
}

func affiliateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored affiliate configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAffiliateConfigs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Label", "Kind", "Enabled", "Weight"})
				for _, cfg := range items {
					tw.AppendRow(table.Row{cfg.ID, cfg.Label, cfg.Kind, cfg.Enabled, cfg.Weight})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func affiliateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show affiliate config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := r.GetAffiliateConfig(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cfg)
			})
		},
	}
	return cmd
}

func affiliateKindsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List supported affiliate networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := affiliate.Definitions()
			if viper.GetBool("json") {
				out := make([]map[string]any, 0, len(defs))
				for _, def := range defs {
					out = append(out, map[string]any{
						"kind":          def.Kind,
						"label":         def.Label,
						"tracking_type": def.TrackingType,
						"defaults":      def.Defaults(),
					})
				}
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Kind", "Label", "Tracking", "Settings"})
			for _, def := range defs {
				tw.AppendRow(table.Row{def.Kind, def.Label, def.TrackingType, strings.Join(settingNames(def.Defaults()), ", ")})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func affiliateSetCmd() *cobra.Command {
	var (
		cfg          domain.AffiliateConfig
		enabled      bool
		settingsJSON string
		pairs        []string
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or update affiliate config",
		Long:  "Settings are merged over the kind's defaults and validated before saving. Pass --settings-json for nested values such as event_settings, and --set key=value for flat ones.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ID = args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				existing, err := r.GetAffiliateConfig(ctx, cfg.ID)
				switch {
				case err == nil:
					if cfg.Kind == "" {
						cfg.Kind = existing.Kind
					}
					if cfg.Label == "" {
						cfg.Label = existing.Label
					}
					if !cmd.Flags().Changed("weight") {
						cfg.Weight = existing.Weight
					}
					cfg.Enabled = existing.Enabled
					if cfg.Kind == existing.Kind {
						cfg.Settings = existing.Settings
					}
				case !errors.Is(err, repo.ErrNotFound):
					return err
				}
				if cmd.Flags().Changed("enabled") {
					cfg.Enabled = enabled
				}
				if cfg.Settings == nil {
					cfg.Settings = map[string]any{}
				}
				if settingsJSON != "" {
					var overrides map[string]any
					if err := json.Unmarshal([]byte(settingsJSON), &overrides); err != nil {
						return fmt.Errorf("invalid --settings-json: %w", err)
					}
					cfg.Settings = affiliate.MergeSettings(cfg.Settings, overrides)
				}
				for _, pair := range pairs {
					key, value, ok := strings.Cut(pair, "=")
					if !ok || key == "" {
						return fmt.Errorf("invalid --set %q, expected key=value", pair)
					}
					cfg.Settings[key] = value
				}
				if err := affiliate.ValidateConfig(&cfg); err != nil {
					return err
				}
				saved, err := r.UpsertAffiliateConfig(ctx, cfg)
				if err != nil {
					return err
				}
				return printJSON(saved)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.Kind, "kind", "", "affiliate kind (see affiliate kinds)")
	cmd.Flags().StringVar(&cfg.Label, "label", "", "admin label")
	cmd.Flags().IntVar(&cfg.Weight, "weight", 0, "dispatch order weight")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "enable the affiliate")
	cmd.Flags().StringVar(&settingsJSON, "settings-json", "", "settings as a JSON object")
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "setting as key=value (repeatable)")
	return cmd
}

func affiliateEnableCmd(enabled bool) *cobra.Command {
	use, short := "enable <id>", "Enable affiliate"
	if !enabled {
		use, short = "disable <id>", "Disable affiliate"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetAffiliateEnabled(ctx, args[0], enabled); err != nil {
					return err
				}
				fmt.Printf("%s enabled=%t\n", args[0], enabled)
				return nil
			})
		},
	}
	return cmd
}

func affiliateDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete affiliate config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAffiliateConfig(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func affiliateImportCmd() *cobra.Command {
	var fromConfig bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import affiliates declared in affiliates.yml into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromConfig {
				return fmt.Errorf("--from-config is required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				seed, err := rt.Config.ValidatedAffiliates()
				if err != nil {
					return err
				}
				imported := make([]domain.AffiliateConfig, 0, len(seed))
				for _, cfg := range seed {
					saved, err := rt.Repo.UpsertAffiliateConfig(ctx, cfg)
					if err != nil {
						return fmt.Errorf("import %s: %w", cfg.ID, err)
					}
					imported = append(imported, saved)
				}
				if viper.GetBool("json") {
					return printJSON(imported)
				}
				fmt.Printf("imported %d affiliate(s)\n", len(imported))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromConfig, "from-config", false, "import the affiliates section of the config file")
	return cmd
}

func trackCmd() *cobra.Command {
	var orderPath string
	var markupOnly bool
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Build tracking pixels for a completed checkout",
		Long:  "Reads an order document (JSON, - for stdin) and prints the pixels every enabled affiliate produces.",
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := readOrder(orderPath)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pixels, err := rt.Engine.Track(ctx, order)
				if err != nil {
					return err
				}
				if markupOnly {
					fmt.Println(render.Markup(pixels))
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"pixels": pixels, "markup": render.Markup(pixels)})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Affiliate", "Tag", "URL"})
				for _, px := range pixels {
					tw.AppendRow(table.Row{px.AffiliateID, px.Tag, px.URL})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orderPath, "order", "", "order JSON file")
	cmd.Flags().BoolVar(&markupOnly, "markup", false, "print only the rendered HTML")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func cancelCmd() *cobra.Command {
	var orderPath, event string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Notify affiliate networks that an order was canceled or refunded",
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := readOrder(orderPath)
			if err != nil {
				return err
			}
			evt := domain.EventType(event)
			if evt != domain.EventOrderCanceled && evt != domain.EventOrderRefunded {
				return fmt.Errorf("--event must be %s or %s", domain.EventOrderCanceled, domain.EventOrderRefunded)
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				outcomes, err := rt.Engine.Cancel(ctx, order, evt)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(outcomes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Affiliate", "Kind", "Status", "HTTP", "Detail"})
				for _, o := range outcomes {
					tw.AppendRow(table.Row{o.AffiliateID, o.Kind, o.Status, o.StatusCode, o.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orderPath, "order", "", "order JSON file")
	cmd.Flags().StringVar(&event, "event", string(domain.EventOrderCanceled), "order_canceled or order_refunded")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func dispatchCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch log",
		Long:  "One record per adapter invocation: pixels emitted, adapters that produced nothing, and cancel outcomes.",
	}
	d.AddCommand(dispatchLogCmd())
	return d
}

func dispatchLogCmd() *cobra.Command {
	var f repo.DispatchFilters
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent dispatch records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestDispatches(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Operation", "Event", "Order", "Affiliate", "Outcome", "HTTP", "Detail"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.TS, rec.Operation, rec.EventType, rec.OrderNumber, rec.AffiliateID, rec.Outcome, rec.StatusCode, rec.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of records")
	cmd.Flags().StringVar(&f.OrderNumber, "order", "", "order number filter")
	cmd.Flags().StringVar(&f.AffiliateID, "affiliate", "", "affiliate id filter")
	cmd.Flags().StringVar(&f.Operation, "operation", "", "track or cancel")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage checkout API keys",
		Long:  "API keys authenticate the checkout against the HTTP API with X-Api-Key and may only dispatch orders.",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := "ak_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var perms []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API (signed with AFFILIATES_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(perms) == 0 {
				perms = []string{auth.PermManageAffiliates, auth.PermDispatchOrders}
			}
			token, err := server.SignToken(viper.GetString("jwt_secret"), subject, perms)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringArrayVar(&perms, "perm", nil, "permission to grant (repeatable)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect service config",
		Long:  "affiliates.yml holds service settings (http timeouts, logging, server, order feed), currency rounding overrides, suppression rules and seed affiliates.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var serviceID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default affiliates.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(serviceID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service-id", "affiliates", "service id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), Logger: rt.Logger}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("AFFILIATES_JWT_SECRET is required for bearer auth")
				}
				if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
					addr = rt.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && rt.Config.Server.BasePath != "" {
					basePath = rt.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					Repo:     rt.Repo,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   rt.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.Info("serving affiliates api", "addr", addr, "base_path", basePath)
				fmt.Printf("Serving affiliates API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func consumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume order lifecycle events and run affiliate cancellation",
		Long:  "Polls the broker configured under feed: in affiliates.yml (kafka or mqtt) for order.canceled and order.refunded messages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				feed := rt.Config.Feed
				consumer, closer, err := orderfeed.Open(feed)
				if err != nil {
					return err
				}
				defer closer.Close()
				rt.Logger.Info("consuming order events", "backend", feed.Backend)
				worker := orderfeed.NewWorker(rt.Logger, consumer, rt.Engine, feed.PollInterval, feed.BatchSize)
				if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	return cmd
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Repo)
	})
}

func readOrder(path string) (domain.Order, error) {
	var order domain.Order
	var in io.Reader
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return order, err
		}
		defer f.Close()
		in = f
	}
	if err := json.NewDecoder(in).Decode(&order); err != nil {
		return order, fmt.Errorf("invalid order %s: %w", path, err)
	}
	if order.Number == "" {
		return order, fmt.Errorf("order %s has no order_number", path)
	}
	return order, nil
}

func settingNames(defaults map[string]any) []string {
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

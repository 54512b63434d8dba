package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/config"
	"github.com/zen-systems/querygate/pkg/selector"
	"github.com/zen-systems/querygate/pkg/server"
	"github.com/zen-systems/querygate/pkg/telemetry"
	"github.com/zen-systems/querygate/pkg/unify"
)

var (
	configFile  string
	adapterFlag string
	modelFlag   string
	verboseFlag bool
	aliases     *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "querygate",
		Short: "Answer questions over tabular data with structured queries or retrieval",
		Long: `Querygate answers natural-language questions about a tabular dataset.
	Each question is routed to a structured backend, which turns it into a
	query and executes it, or a retrieval backend, which finds the most
	relevant rows and generates an answer from them. If the first backend
	cannot answer, the other one is tried.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "override LLM adapter (google, anthropic, openai, deepseek, mock)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override LLM model or alias")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(methodsCmd())
	rootCmd.AddCommand(triggersCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var methodFlag string
	var profileFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question",
		Long: `Routes the question to the best backend, falling back to the other
	one if it cannot answer. Use --method to force structured or retrieval.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			resp, askErr := a.engine.Ask(cmd.Context(), args[0], methodFlag, profileFlag)
			if askErr != nil {
				failure, ok := failureResponse(askErr)
				if !ok {
					return askErr
				}
				resp = failure
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				printResponse(resp)
			}
			return askErr
		},
	}

	cmd.Flags().StringVar(&methodFlag, "method", "auto", "auto, structured (text2query) or retrieval (rag)")
	cmd.Flags().StringVar(&profileFlag, "profile", "", "dataset profile (defaults to the configured default)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full response as JSON")

	return cmd
}

func printResponse(resp *unify.Response) {
	fmt.Println(resp.Answer)
	fmt.Fprintf(os.Stderr, "\nmethod: %s  confidence: %s  time: %.2fs  sources: %d\n",
		resp.MethodUsed, resp.Confidence, resp.ExecutionTime, len(resp.Sources))
	if resp.Error != "" {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
	}
}

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tc := a.cfg.Settings.Telemetry
			shutdownTelemetry, err := telemetry.Setup(cmd.Context(), telemetry.Options{
				Enabled:  tc.Enabled,
				Exporter: tc.Exporter,
				Endpoint: tc.Endpoint,
				Interval: time.Duration(tc.IntervalMs) * time.Millisecond,
				Version:  server.Version,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(flushCtx); err != nil {
					a.logger.Warn("telemetry shutdown failed", zap.Error(err))
				}
			}()

			sc := a.cfg.Settings.Server
			addr := sc.Addr
			if addrFlag != "" {
				addr = addrFlag
			}
			srv, err := server.New(addr, server.Deps{
				Asker:     a.engine,
				Index:     a.retrieval,
				Describer: a.structured,
				Catalog:   a.catalog,
			},
				server.WithLogger(a.logger),
				server.WithRateLimit(sc.RateLimit, sc.RateBurst),
				server.WithCORSOrigins(sc.CORSOrigins...),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (defaults to server.addr)")

	return cmd
}

func searchCmd() *cobra.Command {
	var topK int
	var profileFlag string

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the rows most similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if topK < 1 || topK > server.MaxSearchTopK {
				return fmt.Errorf("--top-k must be between 1 and %d", server.MaxSearchTopK)
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.retrieval.Search(cmd.Context(), args[0], topK, profileFlag)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tID\tCONTENT")
			for _, h := range hits {
				fmt.Fprintf(w, "%.3f\t%s\t%s\n", h.Score, h.ID, truncate(h.Content, 100))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", server.DefaultSearchTopK, "number of results")
	cmd.Flags().StringVar(&profileFlag, "profile", "", "dataset profile")

	return cmd
}

func indexCmd() *cobra.Command {
	var profileFlag string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the vector collection for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			c, err := a.retrieval.Rebuild(cmd.Context(), profileFlag)
			if err != nil {
				return err
			}
			a.logger.Info("collection rebuilt",
				zap.String("collection", c.Name),
				zap.Int("documents", c.Documents),
				zap.Int("chunks", c.Chunks),
				zap.Duration("took", time.Since(start)),
			)
			fmt.Printf("%s: %d documents, %d chunks (%s, %d dims)\n",
				c.Name, c.Documents, c.Chunks, c.Embedder, c.Dims)
			return nil
		},
	}

	cmd.Flags().StringVar(&profileFlag, "profile", "", "dataset profile")

	return cmd
}

func statsCmd() *cobra.Command {
	var profileFlag string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Describe a profile's dataset and vector collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.structured.Describe(profileFlag)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PROFILE\t%s\n", st.Profile)
			fmt.Fprintf(w, "ROWS\t%d\n", st.TotalRows)
			fmt.Fprintf(w, "COLUMNS\t%d\n", st.TotalColumns)

			c, err := a.retrieval.Status(cmd.Context(), profileFlag)
			switch {
			case err != nil:
				fmt.Fprintf(w, "COLLECTION\terror: %v\n", err)
			case c == nil:
				fmt.Fprintln(w, "COLLECTION\tnot built")
			default:
				fmt.Fprintf(w, "COLLECTION\t%s (%d chunks, %s, built %s)\n",
					c.Name, c.Chunks, c.Embedder, c.BuiltAt.Format(time.RFC3339))
			}
			fmt.Fprintln(w)

			fmt.Fprintln(w, "COLUMN\tNULLS")
			for _, col := range st.ColumnNames {
				fmt.Fprintf(w, "%s\t%d\n", col, st.NullCounts[col])
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&profileFlag, "profile", "", "dataset profile")

	return cmd
}

func methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List answering methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "METHOD\tALIASES\tAVAILABLE\tDESCRIPTION")
			for _, m := range a.engine.AvailableMethods() {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.Method, formatList(m.Aliases), m.Available, m.Description)
			}
			return w.Flush()
		},
	}
}

func triggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "Show the selection vocabulary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			s := cfg.Settings

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tTRIGGERS")
			rules := selector.NewRuleSet(vocabulary(s)).Triggers()
			for _, id := range backend.All {
				fmt.Fprintf(w, "%s\t%s\n", id, formatList(rules[id]))
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "DEFAULT\t%s\n", s.Selection.Default)
			tie := "off"
			if s.TieBreakerEnabled() {
				tie = fmt.Sprintf("%s/%s below %.2f", s.LLM.ClassifierAdapter, s.LLM.ClassifierModel, s.Selection.TieBreakThreshold)
			}
			fmt.Fprintf(w, "TIE BREAKER\t%s\n", tie)

			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

	Use --resolve to show aliases and what they resolve to.
	Use --validate to check the configured models resolve to valid models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}

			if validateFlag {
				return validateAliases(cfg)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			providers := aliases.ListProviders()
			if len(providers) == 0 {
				providers = []string{"anthropic", "deepseek", "google", "openai"}
			}
			if !slices.Contains(providers, "mock") {
				providers = append(providers, "mock")
			}

			for _, provider := range providers {
				models := formatList(aliases.GetProviderModels(provider))
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, models, status)
			}

			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check the configured models are valid")

	return cmd
}

func showAliases() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	aliasMap := aliases.ListAliases()
	var aliasNames []string
	for name := range aliasMap {
		aliasNames = append(aliasNames, name)
	}
	sort.Strings(aliasNames)

	for _, alias := range aliasNames {
		model := aliasMap[alias]
		provider := aliases.GetProviderForModel(model)
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, provider)
	}

	return w.Flush()
}

func validateAliases(cfg *config.Config) error {
	errs := aliases.ValidateSettings(cfg.Settings)
	if len(errs) == 0 {
		fmt.Println("All configured models are valid.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %s\n", err)
	}
	return errors.New("validation failed")
}

func formatList(items []string) string {
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"data-migration/config"
	"data-migration/db"
	"data-migration/logger"
	"data-migration/metrics"
	"data-migration/migrate"
	"data-migration/sets"
	"data-migration/sets/blog"
	"data-migration/source"
	"data-migration/store"
)

type options struct {
	configPath   string
	envFiles     []string
	setName      string
	logFile      string
	metricsFile  string
	progressBar  bool
	commit       bool
	yes          bool
	createTables bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !alreadyReported(err) {
			log.Printf("❌ %v", err)
		}
		stop()
		os.Exit(1)
	}
}

// runFailed marks an error the migrator has already written to stderr.
type runFailed struct{ err error }

func (e runFailed) Error() string { return e.err.Error() }
func (e runFailed) Unwrap() error { return e.err }

func alreadyReported(err error) bool {
	var rf runFailed
	return errors.As(err, &rf)
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "data-migration",
		Short: "Migrate a legacy database into the new schema",
		Long: "Runs the units of a migration set in dependency order inside one transaction.\n" +
			"Without --commit everything is rolled back at the end.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "env files loaded before the config")
	flags.StringVar(&opts.setName, "set", "blog", "migration set to run")
	flags.StringVar(&opts.logFile, "log-file", "", "log file (default from config)")

	cmd.Flags().BoolVar(&opts.commit, "commit", false, "commit the run instead of rolling it back")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "do not ask before committing")
	cmd.Flags().BoolVar(&opts.progressBar, "progress-bar", false, "render a progress bar instead of status lines")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&opts.createTables, "create-tables", false, "create missing target tables of the set first")

	cmd.AddCommand(newPlanCmd(&opts), newForgetCmd(&opts))
	return cmd
}

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the execution order and what each unit would do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), *opts, cmd.OutOrStdout())
		},
	}
}

func newForgetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <unit>",
		Short: "Remove a unit from the ledger so its next run is fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(cmd.Context(), *opts, args[0])
		},
	}
}

// Load migration set based on name
func loadSet(name string) (sets.MigrationSet, error) {
	switch name {
	case "blog":
		return blog.GetMigrationSet(), nil
	// Add more cases here if you have multiple migration sets
	default:
		return sets.MigrationSet{}, fmt.Errorf("unknown migration set: %s", name)
	}
}

func setup(opts options) (config.Config, sets.MigrationSet, error) {
	if err := config.LoadEnv(opts.envFiles...); err != nil {
		return config.Config{}, sets.MigrationSet{}, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, sets.MigrationSet{}, err
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
	if opts.metricsFile != "" {
		cfg.MetricsFile = opts.metricsFile
	}
	if opts.progressBar {
		cfg.ProgressBar = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, sets.MigrationSet{}, fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Init(cfg.LogFile); err != nil {
		return config.Config{}, sets.MigrationSet{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	set, err := loadSet(opts.setName)
	if err != nil {
		return config.Config{}, sets.MigrationSet{}, err
	}
	return cfg, set, nil
}

type connections struct {
	source *sql.DB
	store  *store.Store
}

func (c connections) Close() {
	if c.source != nil {
		_ = c.source.Close()
	}
	if c.store != nil {
		if sqlDB, err := c.store.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func connect(ctx context.Context, cfg config.Config, withSource bool) (connections, error) {
	var conns connections
	if withSource {
		src, err := db.OpenSource(ctx, cfg.Source)
		if err != nil {
			return conns, err
		}
		conns.source = src
	}

	target, err := db.OpenTarget(cfg.Target)
	if err != nil {
		conns.Close()
		return conns, err
	}
	st, err := store.New(target)
	if err != nil {
		conns.Close()
		return conns, err
	}
	conns.store = st
	return conns, nil
}

func runMigrate(ctx context.Context, opts options) error {
	cfg, set, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Close()

	conns, err := connect(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer conns.Close()

	if opts.createTables {
		if err := set.CreateTables(conns.store.DB()); err != nil {
			return err
		}
	}

	progress := migrate.LineProgress(os.Stdout)
	if cfg.ProgressBar {
		progress = migrate.BarProgress(os.Stdout)
	}
	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.NewRecorder()
	}

	var srcOpts []source.Option
	if cfg.Source.SkipCount {
		srcOpts = append(srcOpts, source.WithoutCount())
	}
	m := migrate.NewMigrator(conns.store, source.New(conns.source, srcOpts...), set.Units,
		migrate.WithLogger(logger.Logger),
		migrate.WithErrorOutput(os.Stderr),
		migrate.WithProgress(progress),
		migrate.WithMetrics(rec),
	)

	if opts.commit && !opts.yes {
		plan, err := m.Plan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("⚠️  You are about to migrate set %s:\n", set.Name)
		printPlan(os.Stdout, plan)
		if !confirm(os.Stdin, "Proceed with migration? (y/N): ") {
			fmt.Println("❌ Migration cancelled.")
			return nil
		}
		fmt.Println()
	}

	log.Println(">>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>")
	log.Printf("           ⏳ Starting migration of %s...", set.Name)
	log.Println("<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<<")

	_, runErr := m.Run(ctx, opts.commit)
	if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
		log.Printf("⚠️  %v", err)
	}
	if runErr != nil {
		return runFailed{err: runErr}
	}
	if opts.commit {
		log.Println("✅ Migration successful!")
	}
	return nil
}

func runPlan(ctx context.Context, opts options, out io.Writer) error {
	cfg, set, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Close()

	conns, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer conns.Close()

	plan, err := migrate.NewMigrator(conns.store, nil, set.Units).Plan(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Migration set %s: %s\n", set.Name, set.Description)
	printPlan(out, plan)
	return nil
}

func runForget(ctx context.Context, opts options, unit string) error {
	cfg, set, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Close()

	known := false
	for _, u := range set.Units {
		if u.Name == unit && !u.Abstract {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("set %s has no unit %s", set.Name, unit)
	}

	conns, err := connect(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer conns.Close()

	if err := conns.store.Forget(ctx, unit); err != nil {
		return fmt.Errorf("failed to forget %s: %w", unit, err)
	}
	log.Printf("✅ %s will run fresh next time", unit)
	return nil
}

func printPlan(w io.Writer, plan []migrate.PlanEntry) {
	for i, e := range plan {
		line := fmt.Sprintf("   %d. %-20s %s", i+1, e.Name, e.Mode)
		if len(e.DependsOn) > 0 {
			line += "  (after " + strings.Join(e.DependsOn, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Print(prompt)
	input, _ := bufio.NewReader(in).ReadString('\n')
	input = strings.TrimSpace(input)
	return input == "y" || input == "Y"
}

package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cookfarm/cookfarm/internal/metadata"
	"github.com/cookfarm/cookfarm/internal/state"
	"github.com/cookfarm/cookfarm/pkg/config"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
	"github.com/cookfarm/cookfarm/pkg/utils"
	"github.com/cookfarm/cookfarm/pkg/validation"
)

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the authoritative stores",
		Long:  `Display per-store record counts and sizes, wasted bytes and whether the metadata table still references private stores.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "targets [patterns...]",
		Aliases: []string{"list"},
		Short:   "List the targets a cook would process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTargets(args)
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	var outputs bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stores, metadata and worker directories",
		Long:  `Remove the authoritative stores, the metadata table and any worker directories kept after a failed run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean(outputs)
		},
	}
	cmd.Flags().BoolVar(&outputs, "outputs", false, "also remove cooked outputs")
	return cmd
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "🍳 cookfarm v%s\n", c.config.Version)
		},
	}
}

func (c *CLI) newInitCmd() *cobra.Command {
	var source string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a cookfarm configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(source, force)
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "assets", "source root, relative to the project root")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")
	return cmd
}

func (c *CLI) runStatus() error {
	cfg, _, err := c.loadFarmConfig()
	if err != nil {
		return err
	}

	table, err := metadata.LoadOrNew(cfg.MetadataPath)
	if err != nil {
		return err
	}

	runs := state.NewStateManager(filepath.Dir(cfg.MetadataPath), logger.Nop())
	if run, err := runs.Read(); err == nil {
		c.printRun(run)
	}

	if table.Empty() {
		c.printInfo("Nothing cooked yet")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tOWNER\tRECORDS\tSIZE")
	fmt.Fprintln(w, "-----\t-----\t-------\t----")
	var total int64
	for _, s := range table.Stats() {
		owner := color.GreenString("authoritative")
		if s.Owner != "" {
			owner = color.YellowString(s.Owner)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Store, owner, s.Records, utils.FormatBytes(s.Bytes))
		total += s.Bytes
	}
	w.Flush()

	fmt.Fprintln(c.output)
	fmt.Fprintf(c.output, "Targets: %d\n", len(table.Targets()))
	fmt.Fprintf(c.output, "Records: %d (%s)\n", table.Len(), utils.FormatBytes(total))
	fmt.Fprintf(c.output, "Wasted:  %s\n", utils.FormatBytes(table.WastedBytes))
	if table.NeedsSync() {
		fmt.Fprintf(c.output, "Sync:    %s\n", color.RedString("%d records still private", len(table.PrivateKeys())))
	} else {
		fmt.Fprintf(c.output, "Sync:    %s\n", color.GreenString("clean"))
	}
	return nil
}

func (c *CLI) printRun(run *state.RunState) {
	status := string(run.Status)
	switch run.Status {
	case state.RunStatusSucceeded:
		status = color.GreenString(status)
	case state.RunStatusFailed:
		status = color.RedString(status)
	default:
		status = color.YellowString(status)
	}
	fmt.Fprintf(c.output, "Last run %s: %s (started %s)\n", run.RunID, status, run.StartTime.Format(time.RFC3339))
	if run.Summary != nil && run.Status == state.RunStatusSucceeded {
		fmt.Fprintf(c.output, "  %d jobs, %d workers, %d merges in %s\n",
			run.Summary.Jobs, run.Summary.Workers, run.Summary.Merges, run.Summary.Duration.Round(time.Millisecond))
	}
	if run.LastError != "" {
		fmt.Fprintf(c.output, "  error: %s\n", run.LastError)
	}
	fmt.Fprintln(c.output)
}

func (c *CLI) runTargets(args []string) error {
	cfg, _, err := c.loadFarmConfig()
	if err != nil {
		return err
	}

	jobs, err := DiscoverTargets(cfg, args)
	if err != nil {
		return err
	}
	result := validation.NewTargetValidator(cfg.SourceRoot).ValidateMultiple(cfg.StartupBatch, jobs)
	for _, e := range result.Errors {
		c.printWarning(e.Error())
	}
	for _, s := range cfg.StartupBatch {
		fmt.Fprintf(c.output, "%s %s\n", s, color.CyanString("(startup)"))
	}
	for _, job := range jobs {
		fmt.Fprintln(c.output, job)
	}
	return nil
}

func (c *CLI) runClean(outputs bool) error {
	cfg, _, err := c.loadFarmConfig()
	if err != nil {
		return err
	}

	runs := state.NewStateManager(filepath.Dir(cfg.MetadataPath), logger.Nop())
	if locked, err := runs.IsLocked(); err == nil && locked {
		return fmt.Errorf("%w: refusing to clean", state.ErrRunInProgress)
	}

	fsu := utils.NewFileSystemUtils()
	dirs := []string{cfg.WorkDir, cfg.StoreDir}
	if outputs {
		dirs = append(dirs, cfg.OutputRoot)
	}
	for _, dir := range dirs {
		if err := fsu.RemoveDirectory(dir); err != nil {
			return err
		}
	}
	if err := fsu.Remove(cfg.MetadataPath); err != nil {
		return err
	}
	if err := runs.Remove(); err != nil {
		return err
	}

	c.printSuccess("Removed stores, metadata and worker directories")
	return nil
}

func (c *CLI) runValidate() error {
	cfg, path, err := c.loadFarmConfig()
	if err != nil {
		return err
	}

	if !utils.NewFileSystemUtils().Exists(cfg.SourceRoot) {
		c.printWarning(fmt.Sprintf("Source root %s does not exist", cfg.SourceRoot))
	} else {
		result := validation.NewTargetValidator(cfg.SourceRoot).ValidateConfiguration(cfg)
		for _, w := range result.Warnings() {
			c.printWarning(w.Error())
		}
		if err := result.Err(); err != nil {
			return err
		}
	}
	c.printSuccess(fmt.Sprintf("Configuration %s is valid", path))
	c.printInfo(fmt.Sprintf("Sources: %s", cfg.SourceRoot))
	c.printInfo(fmt.Sprintf("Stores:  %s (alignment %d, default %s)", cfg.StoreDir, cfg.Alignment, cfg.StoreName()))
	return nil
}

func (c *CLI) runInit(source string, force bool) error {
	path := c.config.ConfigFile
	if path == "" {
		path = filepath.Join(c.config.ProjectRoot, config.DefaultConfigFiles[0])
	}

	if utils.FileExists(path) && !force {
		return fmt.Errorf("configuration already exists. Use --force to overwrite")
	}

	cfg := c.manager.GetDefaultConfig(source)
	cfg.LogLevel = types.LogLevelInfo
	if err := c.manager.Save(path, cfg); err != nil {
		return err
	}

	root := cfg.SourceRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(filepath.Dir(path), root)
	}
	if err := utils.NewFileSystemUtils().CreateDirectory(root); err != nil {
		return fmt.Errorf("create source root: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))
	c.printInfo("Edit startupBatch and targets to customize the run")
	return nil
}

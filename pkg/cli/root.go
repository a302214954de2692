// Package cli provides the command-line interface for cookfarm
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cookfarm/cookfarm/pkg/config"
	"github.com/cookfarm/cookfarm/pkg/logger"
	"github.com/cookfarm/cookfarm/pkg/types"
)

// EnvPrefix prefixes every environment variable the CLI reads
const EnvPrefix = "COOKFARM"

// CLI encapsulates the command-line interface and makes it testable
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	manager  *config.Manager
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    viper.New(),
		manager:  config.NewManager(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "cookfarm",
		Short: "Parallel asset cooking with mergeable content stores",
		Long: `🍳 cookfarm - cooks build targets across a pool of worker processes

Workers cook into private content stores that the scheduler merges into the
authoritative stores, so every cooked output references canonical offsets.`,

		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("🍳 cookfarm v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newCookCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newTargetsCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: cookfarm.config.yaml in --root)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "", "log level (debug, info, warn, error)")

	c.viper.BindPFlag("verbosity", flags.Lookup("verbosity"))
}

// initializeConfig layers environment variables under explicit flags
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.viper.SetEnvPrefix(EnvPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.viper.AutomaticEnv()

	if c.viper.IsSet("verbosity") {
		c.config.Verbosity = c.viper.GetString("verbosity")
	}
	if c.viper.IsSet("max-workers") {
		c.config.MaxWorkers = c.viper.GetInt("max-workers")
	}
	if c.viper.IsSet("serial") {
		c.config.Serial = c.viper.GetBool("serial")
	}
	return nil
}

// loadFarmConfig finds and loads the farm configuration and applies the
// command-line overrides. The returned path is absolute.
func (c *CLI) loadFarmConfig() (*types.FarmConfig, string, error) {
	path, err := c.manager.FindConfig(c.config.ConfigFile, c.config.ProjectRoot)
	if err != nil {
		return nil, "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolve config path: %w", err)
	}

	cfg, err := c.manager.LoadConfig(abs)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", abs, err)
	}

	if c.config.MaxWorkers > 0 {
		cfg.Pool.MaxWorkers = c.config.MaxWorkers
	}
	if c.config.Serial {
		cfg.Pool.Disabled = true
	}
	return cfg, abs, nil
}

// logLevel returns the effective level: flag or environment first, then
// the config file
func (c *CLI) logLevel(cfg *types.FarmConfig) string {
	if c.config.Verbosity != "" {
		return c.config.Verbosity
	}
	if cfg != nil && cfg.LogLevel != "" {
		return string(cfg.LogLevel)
	}
	return string(types.LogLevelInfo)
}

func (c *CLI) newLogger(cfg *types.FarmConfig) logger.Logger {
	if c.output == os.Stdout {
		return logger.CreateLogger("", c.logLevel(cfg))
	}
	return logger.CreateLoggerWithOutput("", c.logLevel(cfg), c.output)
}

// Helper methods for user-facing output

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "🍳 %s %s\n", color.GreenString("[cookfarm]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "🍳 %s %s\n", color.RedString("[cookfarm]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "🍳 %s %s\n", color.CyanString("[cookfarm]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "🍳 %s %s\n", color.YellowString("[cookfarm]"), message)
}

// ExecuteWithVersion builds the CLI and runs it on os.Args
func ExecuteWithVersion(ctx context.Context, version string) error {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)
	err := c.ExecuteContext(ctx, os.Args[1:])
	if err != nil && !isWorkerInvocation(os.Args[1:]) {
		c.printError(err.Error())
	}
	return err
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CeGenreDeChat/debsnap/cmd/debsnap/commands"
	"github.com/CeGenreDeChat/debsnap/pkg/debian"
	"github.com/CeGenreDeChat/debsnap/pkg/merge"
)

var (
	rootCmd *cobra.Command
	env     = &commands.Env{}

	flags struct {
		ConfigPath   string
		Verbose      bool
		Quiet        bool
		MirrorURL    string
		UserAgent    string
		Timeout      time.Duration
		OutDir       string
		CacheDir     string
		Input        string
		DscFilter    bool
		Compress     string
		ApplyPatches bool
		MergeOutDir  string
	}

	downloadOpts commands.DownloadOptions
	mergeOpts    commands.MergeOptions
	repackOpts   commands.RepackOptions
	progress     bool
)

// loadConfig reads the configuration file, then applies the flags given on
// the command line.
func loadConfig(cmd *cobra.Command) error {
	cfg := commands.DefaultConfig()

	path, required := flags.ConfigPath, true
	if path == "" {
		path, required = commands.DefaultConfigPath(), false
	}
	if err := commands.LoadConfig(path, required, &cfg); err != nil {
		return err
	}

	set := cmd.Flags()
	override := func(name string, apply func()) {
		if f := set.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	override("mirror", func() { cfg.MirrorURL = flags.MirrorURL })
	override("user-agent", func() { cfg.UserAgent = flags.UserAgent })
	override("timeout", func() { cfg.Timeout = flags.Timeout })
	override("outdir", func() { cfg.OutDir = flags.OutDir })
	override("cache-dir", func() { cfg.CacheDir = flags.CacheDir })
	override("dsc-filter", func() { cfg.DscFilter = flags.DscFilter })
	override("compress", func() { cfg.Compress = flags.Compress })
	override("apply-patches", func() { cfg.ApplyPatches = flags.ApplyPatches })
	override("merge-outdir", func() { cfg.MergeOutDir = flags.MergeOutDir })
	cfg.Verbose = flags.Verbose
	cfg.Quiet = flags.Quiet

	if err := cfg.Validate(); err != nil {
		return err
	}

	env.Config = cfg
	env.Logger = commands.NewLogger(os.Stderr, cfg.Verbose, cfg.Quiet)
	env.Localizer = localizer
	return nil
}

func readPackages(cmd *cobra.Command) ([]*debian.PackageRef, error) {
	return commands.ReadPackages(flags.Input, cmd.InOrStdin())
}

func addInputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flags.Input, "input", "i", "", localize("flag.input"))
}

func addMergeFlags(set *pflag.FlagSet) {
	set.StringVar(&flags.Compress, "compress", merge.None.Name, fmt.Sprintf("%s (%v)", localize("flag.compress"), merge.FormatNames()))
	set.BoolVar(&flags.ApplyPatches, "apply-patches", false, localize("flag.apply_patches"))
	set.StringVar(&flags.MergeOutDir, "merge-outdir", "", localize("flag.merge_outdir"))
}

func initCommands() {
	rootCmd = &cobra.Command{
		Use:           "debsnap",
		Short:         localize("command.root"),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	// Flags globaux
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", localize("flag.config"))
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, localize("flag.verbose"))
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, localize("flag.quiet"))
	pf.StringVar(&flags.MirrorURL, "mirror", "", localize("flag.mirror"))
	pf.StringVar(&flags.UserAgent, "user-agent", "", localize("flag.user_agent"))
	pf.DurationVar(&flags.Timeout, "timeout", 0, localize("flag.timeout"))
	pf.StringVarP(&flags.OutDir, "outdir", "o", "", localize("flag.outdir"))
	pf.StringVar(&flags.CacheDir, "cache-dir", "", localize("flag.cache_dir"))

	// Commande `versions`
	versionsCmd := &cobra.Command{
		Use:   "versions <package>",
		Short: localize("command.versions"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env.Stdout = cmd.OutOrStdout()
			return commands.ListVersions(cmd.Context(), env, args[0])
		},
	}
	rootCmd.AddCommand(versionsCmd)

	// Commande `resolve`
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: localize("command.resolve"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := readPackages(cmd)
			if err != nil {
				return err
			}
			env.Stdout = cmd.OutOrStdout()
			return commands.ResolvePackages(cmd.Context(), env, pkgs, progress)
		},
	}
	addInputFlag(resolveCmd)
	resolveCmd.Flags().BoolVar(&flags.DscFilter, "dsc-filter", false, localize("flag.dsc_filter"))
	resolveCmd.Flags().BoolVar(&progress, "progress", false, localize("flag.progress"))
	rootCmd.AddCommand(resolveCmd)

	// Commande `download`
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: localize("command.download"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := readPackages(cmd)
			if err != nil {
				return err
			}
			env.Stdout = cmd.OutOrStdout()
			return commands.DownloadPackages(cmd.Context(), env, pkgs, downloadOpts)
		},
	}
	addInputFlag(downloadCmd)
	downloadCmd.Flags().BoolVar(&downloadOpts.Sources, "sources", false, localize("flag.sources"))
	downloadCmd.Flags().BoolVar(&downloadOpts.Binaries, "binaries", false, localize("flag.binaries"))
	downloadCmd.Flags().BoolVar(&downloadOpts.JSON, "json", false, localize("flag.json"))
	downloadCmd.Flags().BoolVar(&downloadOpts.Progress, "progress", false, localize("flag.progress"))
	downloadCmd.Flags().BoolVar(&flags.DscFilter, "dsc-filter", false, localize("flag.dsc_filter"))
	rootCmd.AddCommand(downloadCmd)

	// Commande `merge`
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: localize("command.merge"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := readPackages(cmd)
			if err != nil {
				return err
			}
			return commands.MergeSources(cmd.Context(), env, pkgs, mergeOpts)
		},
	}
	addInputFlag(mergeCmd)
	addMergeFlags(mergeCmd.Flags())
	mergeCmd.Flags().StringVar(&mergeOpts.Mtime, "mtime", "", localize("flag.mtime"))
	mergeCmd.Flags().BoolVar(&mergeOpts.Progress, "progress", false, localize("flag.progress"))
	rootCmd.AddCommand(mergeCmd)

	// Commande `repack`
	repackCmd := &cobra.Command{
		Use:   "repack",
		Short: localize("command.repack"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs, err := readPackages(cmd)
			if err != nil {
				return err
			}
			env.Stdout = cmd.OutOrStdout()
			return commands.RepackPackages(cmd.Context(), env, pkgs, repackOpts)
		},
	}
	addInputFlag(repackCmd)
	addMergeFlags(repackCmd.Flags())
	repackCmd.Flags().StringVar(&repackOpts.OutDir, "repack-dir", "repacked", localize("flag.repack_dir"))
	repackCmd.Flags().BoolVar(&repackOpts.Copy, "copy", false, localize("flag.copy"))
	repackCmd.Flags().BoolVar(&repackOpts.Progress, "progress", false, localize("flag.progress"))
	rootCmd.AddCommand(repackCmd)
}

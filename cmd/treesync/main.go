package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/treesync/internal/client"
	"github.com/openmined/treesync/internal/client/config"
	"github.com/openmined/treesync/internal/client/console"
	"github.com/openmined/treesync/internal/client/prompt"
	"github.com/openmined/treesync/internal/client/sync"
	"github.com/openmined/treesync/internal/utils"
	"github.com/openmined/treesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
	logLevel       = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:     "treesync [root]",
	Short:   "Two-way sync of a local folder with Dropbox or S3",
	Long:    "Synchronizes the directory tree at root (default ~/Documents) with a remote store, in one batch run.",
	Args:    cobra.MaximumNArgs(1),
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromViper(args)
		if cfg.Backend == "" || cfg.Backend == "dropbox" {
			if err := ensureToken(cmd, cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, _ := cfg.SlogLevel()
		logLevel.Set(level)

		// all good now
		cmd.SilenceUsage = true

		reporter := console.NewReporter(cmd.OutOrStdout())
		c, err := client.New(cfg, newDecider(cmd, cfg), reporter)
		if err != nil {
			return err
		}

		report, err := c.Run(cmd.Context())
		if err != nil {
			return err
		}
		if report.Unresolved > 0 || report.Failed > 0 {
			slog.Warn("sync finished with leftovers", "unresolved", report.Unresolved, "failed", report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("backend", "b", "dropbox", "Remote backend (dropbox, s3)")
	rootCmd.Flags().String("token", "", "Dropbox access token")
	rootCmd.Flags().String("bucket", "", "S3 bucket")
	rootCmd.Flags().String("prefix", "", "S3 key prefix")
	rootCmd.Flags().String("region", "", "S3 region")
	rootCmd.Flags().String("endpoint", "", "S3 compatible endpoint URL")
	rootCmd.Flags().String("conflict", "prompt", "Conflict policy (prompt, local, remote, fail)")
	rootCmd.Flags().String("state-backend", config.StateBackendFile, "Sync state storage (file, sqlite)")
	rootCmd.Flags().IntP("workers", "w", sync.DefaultWorkers, "Parallel transfers")
	rootCmd.Flags().Bool("keep-modified", false, "Keep locally modified files whose remote copy was deleted")
	rootCmd.Flags().Bool("no-input", false, "Never prompt, leave conflicts unresolved")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "TreeSync config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func main() {
	// optional .env in the working directory, for headless credentials
	_ = godotenv.Load()

	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handler := slog.Handler(stderrHandler)
	if file, err := openLogFile(config.DefaultLogFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
	} else {
		defer file.Close()
		fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = utils.NewMultiLogHandler(stderrHandler, fileHandler)
	}
	slog.SetDefault(slog.New(handler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".treesync"))
		viper.AddConfigPath(filepath.Join(home, ".config", "treesync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	defaults := config.Default()
	viper.SetDefault("root", defaults.Root)
	viper.SetDefault("api_url", defaults.APIURL)
	viper.SetDefault("content_url", defaults.ContentURL)
	viper.SetDefault("chunk_threshold", defaults.ChunkThreshold)
	viper.SetDefault("chunk_size", defaults.ChunkSize)
	viper.SetDefault("request_timeout", defaults.RequestTimeout)
	viper.SetDefault("transfer_timeout", defaults.TransferTimeout)
	viper.SetDefault("max_retries", defaults.MaxRetries)
	viper.SetDefault("reserved_dirs", defaults.ReservedDirs)
	viper.SetDefault("generated_suffixes", defaults.GeneratedSuffixes)

	viper.BindPFlag("backend", cmd.Flags().Lookup("backend"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("bucket", cmd.Flags().Lookup("bucket"))
	viper.BindPFlag("prefix", cmd.Flags().Lookup("prefix"))
	viper.BindPFlag("region", cmd.Flags().Lookup("region"))
	viper.BindPFlag("endpoint", cmd.Flags().Lookup("endpoint"))
	viper.BindPFlag("conflict_policy", cmd.Flags().Lookup("conflict"))
	viper.BindPFlag("state_backend", cmd.Flags().Lookup("state-backend"))
	viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	viper.BindPFlag("keep_modified_on_remote_delete", cmd.Flags().Lookup("keep-modified"))
	viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	// TREESYNC_TOKEN, TREESYNC_ACCESS_KEY, ...
	viper.SetEnvPrefix("TREESYNC")
	viper.AutomaticEnv()

	return nil
}

func configFromViper(args []string) *config.Config {
	cfg := &config.Config{
		Root:                       viper.GetString("root"),
		Backend:                    viper.GetString("backend"),
		Token:                      viper.GetString("token"),
		APIURL:                     viper.GetString("api_url"),
		ContentURL:                 viper.GetString("content_url"),
		Bucket:                     viper.GetString("bucket"),
		Prefix:                     viper.GetString("prefix"),
		Region:                     viper.GetString("region"),
		Endpoint:                   viper.GetString("endpoint"),
		AccessKey:                  viper.GetString("access_key"),
		SecretKey:                  viper.GetString("secret_key"),
		ConflictPolicy:             viper.GetString("conflict_policy"),
		StateBackend:               viper.GetString("state_backend"),
		Workers:                    viper.GetInt("workers"),
		ChunkThreshold:             viper.GetInt64("chunk_threshold"),
		ChunkSize:                  viper.GetInt64("chunk_size"),
		RequestTimeout:             viper.GetDuration("request_timeout"),
		TransferTimeout:            viper.GetDuration("transfer_timeout"),
		MaxRetries:                 viper.GetInt("max_retries"),
		ReservedDirs:               viper.GetStringSlice("reserved_dirs"),
		GeneratedSuffixes:          viper.GetStringSlice("generated_suffixes"),
		KeepModifiedOnRemoteDelete: viper.GetBool("keep_modified_on_remote_delete"),
		LogLevel:                   viper.GetString("log_level"),
		Path:                       viper.ConfigFileUsed(),
	}
	if len(args) > 0 {
		if utils.DirExists(args[0]) {
			cfg.Root = args[0]
		} else {
			slog.Warn("not a directory, using configured root", "arg", args[0], "root", cfg.Root)
		}
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
	}
	return cfg
}

// newDecider picks how conflicts are asked: a select list on a terminal,
// plain lines on a pipe, nothing with --no-input.
func newDecider(cmd *cobra.Command, cfg *config.Config) sync.Decider {
	if noInput, _ := cmd.Flags().GetBool("no-input"); noInput || cfg.ConflictPolicy != string(sync.PolicyPrompt) {
		return sync.FailClosed{}
	}

	in := cmd.InOrStdin()
	if isTerminal(in) {
		return prompt.NewHuhDecider(in, cmd.ErrOrStderr(), os.Getenv("ACCESSIBLE") != "")
	}
	return prompt.NewLineDecider(in, cmd.OutOrStdout())
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"enge/internal/archive"
	"enge/internal/artifact"
	"enge/internal/cli"
	"enge/internal/config"
	"enge/internal/dispatch"
	"enge/internal/httpx"
	"enge/internal/report"
	"enge/internal/rerun"
	"enge/internal/testingfarm"
)

var logger = cli.NewLogger(os.Stderr, false)

var rootCmd = &cobra.Command{
	Use:   "enge",
	Short: "Send test plans to the Testing Farm and report on the results",
	Long: `enge resolves a Copr or Brew build to the composes it was built for,
submits one Testing Farm request per plan and compose, and reports on the
results of earlier requests.

Commands:
- test copr|brew: resolve a build reference and submit the plans.
- report: collect the results of earlier requests into a table.
- rerun: resubmit the failed or errored plans of earlier requests.
- history: list submissions recorded in the local ledger.
- serve: expose the ledger and reports over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("debug") {
			logger.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	code := exitCode(err)
	var ee *cli.ExitError
	if err != nil && !(errors.As(err, &ee) && ee.Err == nil) && !errors.Is(err, artifact.ErrDeclined) {
		logger.Error(err)
	}
	os.Exit(code)
}

func initConfig() {
	// Missing .env files are fine.
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".config", "enge", ".env"))
	}
	viper.SetEnvPrefix("ENGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "custom path to the config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "print debug messages")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("archive-dir", "", "directory of the archive files and the submission ledger")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("archive-dir", rootCmd.PersistentFlags().Lookup("archive-dir"))
}

func registerCommands() {
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(rerunCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// exitCode maps error classes to process exit statuses.
func exitCode(err error) int {
	var ee *cli.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.Code
	case errors.Is(err, artifact.ErrDeclined):
		return 0
	case errors.Is(err, dispatch.ErrAmbiguousFilter),
		errors.Is(err, artifact.ErrAmbiguousTarget),
		errors.Is(err, report.ErrInvalidUnify):
		return 2
	case errors.Is(err, artifact.ErrUpstreamUnreachable),
		errors.Is(err, artifact.ErrUnmatchedTarget),
		errors.Is(err, artifact.ErrOwnershipMismatch),
		errors.Is(err, artifact.ErrBuildFailed),
		errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, artifact.ErrNoReference),
		errors.Is(err, config.ErrNotFound),
		errors.Is(err, rerun.ErrMultipleEnvironments):
		return 99
	case errors.Is(err, archive.ErrSourceMissing),
		errors.Is(err, archive.ErrNoTasks):
		return 1
	}
	return cli.Status(err)
}

// env is what every command builds from the config file.
type env struct {
	cfg  *config.Config
	path string
	http *http.Client
	tf   *testingfarm.Client
}

func loadEnv(o config.Overrides) (*env, error) {
	paths := config.DefaultPaths
	if p := viper.GetString("config"); p != "" {
		paths = []string{p}
	}
	cfg, path, err := config.Load(paths)
	if err != nil {
		return nil, cli.Exit(99, err)
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("TESTING_FARM_API_TOKEN")
	}
	if o.ArchiveDir == "" {
		o.ArchiveDir = viper.GetString("archive-dir")
	}
	cfg.Merge(o)
	logger.Debugf("Using config file %s", path)

	hc := httpx.NewClient(httpx.Options{RetryMax: 3, Timeout: 60 * time.Second, Logger: logger})
	return &env{
		cfg:  cfg,
		path: path,
		http: hc,
		tf:   testingfarm.New(cfg.TestingFarm.EndpointURL, cfg.TestingFarm.LogArtifactsURL, cfg.TestingFarm.APIKey, hc),
	}, nil
}

// archiveDir is where archive files and the ledger live.
func (e *env) archiveDir() string {
	return e.cfg.Common.ArchiveTasksDefault
}

func (e *env) requireAPIKey() error {
	if e.cfg.TestingFarm.APIKey == "" {
		return cli.Exit(99, fmt.Errorf("no Testing Farm API key: set testing_farm.api_key in %s or TESTING_FARM_API_TOKEN", e.path))
	}
	return nil
}

// taskSourceFlags are shared by report and rerun.
type taskSourceFlags struct {
	latest bool
	files  []string
	ids    []string
	tag    string
}

func (f *taskSourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.latest, "latest", "l", false, "use the tasks of the latest test or rerun (default)")
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "read tasks from a file, may be repeated")
	cmd.Flags().StringArrayVar(&f.ids, "cmd", nil, "task uuid or url, may be repeated")
	cmd.Flags().StringVar(&f.tag, "tag", "", "read every archive file tagged with this value")
	cmd.MarkFlagsMutuallyExclusive("latest", "file", "cmd", "tag")
}

func (f *taskSourceFlags) tasks(e *env) ([]string, error) {
	src := archive.Source{
		IDs:        f.ids,
		Files:      f.files,
		Tag:        f.tag,
		LatestPath: e.cfg.Common.ArchiveTasksLatest,
		ArchiveDir: e.archiveDir(),
	}
	if f.latest {
		src.IDs, src.Files, src.Tag = nil, nil, ""
	}
	logger.Debugf("Reading tasks from %s", src.Describe())
	return src.Tasks()
}

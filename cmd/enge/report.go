package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"enge/internal/catalog"
	"enge/internal/cli"
	"enge/internal/config"
	"enge/internal/report"
	"enge/internal/results"
)

type reportFlags struct {
	source       taskSourceFlags
	showArch     bool
	level2       bool
	short        bool
	wait         bool
	downloadLogs bool
	skipPass     bool
	compare      bool
	unify        []string
}

func reportCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report on the results of earlier requests",
		Long: `Report collects the results of earlier requests into a table.

The exit status is the most severe result seen: 0 passed, 4 nothing to
report, 2 failed, 3 errored, 99 unknown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, f)
		},
	}
	fl := cmd.Flags()
	f.source.register(cmd)
	fl.BoolVar(&f.showArch, "showarch", false, "display the architecture")
	fl.BoolVar(&f.level2, "level2", false, "display the test cases of each plan")
	fl.BoolVarP(&f.short, "short", "s", false, "display the last segment of plan and test names only")
	fl.BoolVarP(&f.wait, "wait", "w", false, "wait for unfinished requests")
	fl.BoolVar(&f.downloadLogs, "download-logs", false, "download the test logs")
	fl.BoolVar(&f.skipPass, "skip-pass", false, "skip PASSED results in the table and the log download")
	fl.BoolVar(&f.compare, "compare", false, "compare the results of several runs side by side")
	fl.StringArrayVarP(&f.unify, "unify-results", "u", nil, "compare differently named plans as one, as plan1=plan2")
	return cmd
}

func runReport(cmd *cobra.Command, f reportFlags) error {
	ctx := cmd.Context()
	e, err := loadEnv(config.Overrides{})
	if err != nil {
		return err
	}
	tasks, err := f.source.tasks(e)
	if err != nil {
		return err
	}
	opts := report.Options{
		ShowArch: f.showArch,
		Level2:   f.level2,
		Short:    f.short,
		Unify:    f.unify,
		Color:    true,
	}
	// Fail on a bad unify pair before fetching anything.
	if _, err := report.ParseUnify(f.unify); err != nil {
		return err
	}

	c := &results.Collector{
		Client:       e.tf,
		Endpoint:     e.cfg.TestingFarm.EndpointURL,
		ArtifactsURL: e.cfg.TestingFarm.LogArtifactsURL,
		Opts: results.Options{
			SkipPassed:   f.skipPass,
			Wait:         f.wait,
			DownloadLogs: f.downloadLogs,
			LogsDir:      e.cfg.Common.LogsDir,
			Color:        true,
			TargetWidth:  catalog.New(e.cfg.Tests.Composes).LongestCompose(),
		},
		Log: logger,
	}
	rs, code, err := c.FetchAll(ctx, tasks)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viper.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rs.Tasks); err != nil {
			return err
		}
	} else if f.compare {
		tw, err := report.Compare(rs, opts)
		if err != nil {
			return err
		}
		report.Print(out, tw)
	} else {
		report.Print(out, report.Flat(rs, opts))
	}
	if code != results.Passed {
		return cli.Exit(int(code), nil)
	}
	return nil
}

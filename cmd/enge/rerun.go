package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"enge/internal/archive"
	"enge/internal/catalog"
	"enge/internal/config"
	"enge/internal/dispatch"
	"enge/internal/history"
	"enge/internal/rerun"
	"enge/internal/results"
)

type rerunFlags struct {
	source   taskSourceFlags
	errored  bool
	failed   bool
	dryRun   bool
	saveTags []string
}

func rerunCmd() *cobra.Command {
	var f rerunFlags
	cmd := &cobra.Command{
		Use:   "rerun",
		Short: "Resubmit the failed or errored plans of earlier requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRerun(cmd, f)
		},
	}
	fl := cmd.Flags()
	f.source.register(cmd)
	fl.BoolVar(&f.errored, "error", false, "rerun ERROR plans only")
	fl.BoolVar(&f.failed, "fail", false, "rerun FAILED plans only")
	fl.BoolVar(&f.dryRun, "dryrun", false, "list the qualifying plans without resubmitting them")
	fl.StringArrayVar(&f.saveTags, "save-tag", nil, "suffix added to the new archive file name, may be repeated")
	cmd.MarkFlagsMutuallyExclusive("error", "fail")
	return cmd
}

func runRerun(cmd *cobra.Command, f rerunFlags) error {
	ctx := cmd.Context()
	e, err := loadEnv(config.Overrides{})
	if err != nil {
		return err
	}
	if !f.dryRun {
		if err := e.requireAPIKey(); err != nil {
			return err
		}
	}
	tasks, err := f.source.tasks(e)
	if err != nil {
		return err
	}

	logger.Info("Looking for tasks from the requested sources, this may take a while.")
	c := &results.Collector{
		Client:       e.tf,
		Endpoint:     e.cfg.TestingFarm.EndpointURL,
		ArtifactsURL: e.cfg.TestingFarm.LogArtifactsURL,
		Opts: results.Options{
			SkipPassed:  true,
			LogsDir:     e.cfg.Common.LogsDir,
			Color:       true,
			TargetWidth: catalog.New(e.cfg.Tests.Composes).LongestCompose(),
		},
		Log: logger,
	}
	rs, _, err := c.FetchAll(ctx, tasks)
	if err != nil {
		return err
	}

	filter := rerun.FilterAny
	switch {
	case f.errored:
		filter = rerun.FilterError
	case f.failed:
		filter = rerun.FilterFailed
	}

	d := &dispatch.Dispatcher{
		Client:        e.tf,
		APIKey:        e.cfg.TestingFarm.APIKey,
		Archive:       archive.NewWriter(e.cfg.Common.ArchiveTasksLatest, e.archiveDir(), time.Now(), f.saveTags),
		Tag:           strings.Join(f.saveTags, "."),
		SummaryHeader: true,
		Out:           cmd.OutOrStdout(),
		Log:           logger,
	}
	if !f.dryRun {
		ledger, err := history.Open(ctx, e.archiveDir())
		if err != nil {
			logger.Warnf("Submission history is unavailable: %v", err)
		} else {
			defer ledger.Close()
			d.Ledger = ledger
		}
	}

	r := &rerun.Rerun{
		Client:     e.tf,
		Dispatcher: d,
		Filter:     filter,
		DryRun:     f.dryRun,
		Out:        cmd.OutOrStdout(),
		Log:        logger,
	}
	return r.Execute(ctx, rs)
}

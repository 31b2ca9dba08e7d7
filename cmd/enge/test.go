package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"enge/internal/archive"
	"enge/internal/artifact"
	"enge/internal/catalog"
	"enge/internal/cli"
	"enge/internal/config"
	"enge/internal/copr"
	"enge/internal/dispatch"
	"enge/internal/history"
	"enge/internal/koji"
)

type testFlags struct {
	references    []string
	taskIDs       []string
	gitURL        string
	gitBranch     string
	arch          string
	plans         []string
	planFilter    string
	testFilter    string
	targets       []string
	wait          int
	parallelLimit int
	dryRun        bool
	uefi          bool
	tags          []string
	yes           bool
}

func testCmd() *cobra.Command {
	var f testFlags
	cmd := &cobra.Command{
		Use:       "test copr|brew",
		Short:     "Resolve a build and send the test plans to the Testing Farm",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(artifact.KindCopr), string(artifact.KindBrew)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, artifact.Kind(args[0]), f)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.references, "reference", "r", nil, "version or NVR substring of the build, may be repeated")
	fl.StringArrayVarP(&f.taskIDs, "task-id", "i", nil, "Copr build id or Brew task id, may be repeated")
	fl.StringVarP(&f.gitURL, "tests-git-url", "g", "", "URL of the tests metadata repository")
	fl.StringVarP(&f.gitBranch, "tests-git-branch", "b", "", "git branch to check tests out from")
	fl.StringVar(&f.arch, "arch", "x86_64", "architecture to test on")
	fl.StringArrayVarP(&f.plans, "plans", "p", nil, "test plan to run, may be repeated (default tests.plans)")
	fl.StringVar(&f.planFilter, "planfilter", "", "tmt plan filter, only with a single plan")
	fl.StringVar(&f.testFilter, "testfilter", "", "tmt test filter, only with a single plan")
	fl.StringArrayVarP(&f.targets, "target", "t", nil, "configured target to test on, may be repeated (default all)")
	fl.IntVarP(&f.wait, "wait", "w", 20, "seconds to wait for the artifacts page after each request")
	fl.IntVarP(&f.parallelLimit, "parallel-limit", "l", 0, "maximum number of plans run in parallel")
	fl.BoolVar(&f.dryRun, "dryrun", false, "print the payloads instead of sending them")
	fl.BoolVarP(&f.uefi, "uefi", "u", false, "request UEFI boot in provisioning")
	fl.StringArrayVar(&f.tags, "tag", nil, "suffix added to the archive file name, may be repeated")
	fl.BoolVar(&f.yes, "yes", false, "answer yes to every question")
	cmd.MarkFlagsMutuallyExclusive("reference", "task-id")
	return cmd
}

func runTest(cmd *cobra.Command, kind artifact.Kind, f testFlags) error {
	ctx := cmd.Context()
	o := config.Overrides{
		TestsGitURL:    f.gitURL,
		TestsGitBranch: f.gitBranch,
		ParallelLimit:  f.parallelLimit,
		Plans:          f.plans,
	}
	if len(f.references) > 0 {
		switch kind {
		case artifact.KindCopr:
			o.CoprReference = f.references[0]
		case artifact.KindBrew:
			o.BrewReference = strings.Join(f.references, ",")
		}
	}
	e, err := loadEnv(o)
	if err != nil {
		return err
	}
	cfg := e.cfg
	if len(cfg.Tests.Plans) == 0 {
		return cli.Exit(99, fmt.Errorf("no test plans: pass --plans or set tests.plans in %s", e.path))
	}
	if !f.dryRun {
		if err := e.requireAPIKey(); err != nil {
			return err
		}
	}
	if cfg.Tests.GitURL == "" {
		return cli.Exit(99, fmt.Errorf("no tests repository: set tests.git_url or project.repo_url in %s", e.path))
	}
	if err := dispatch.ProbeRepository(ctx, e.tf, cfg.Tests.GitURL); err != nil {
		return err
	}

	cat := catalog.New(cfg.Tests.Composes)
	targets, err := cat.Select(f.targets)
	if err != nil {
		return err
	}

	ref := artifact.Reference{ByID: len(f.taskIDs) > 0, Values: f.taskIDs}

	var resolver artifact.Resolver
	switch kind {
	case artifact.KindCopr:
		if !ref.ByID && cfg.Copr.BuildReference != "" {
			ref.Values = []string{cfg.Copr.BuildReference}
		}
		confirm := artifact.ConfirmFunc(cli.Prompt(os.Stdin, os.Stdout))
		if f.yes {
			confirm = cli.AutoConfirm(true)
		}
		resolver = &artifact.CoprResolver{
			Client:       copr.New(cfg.Copr.URL, e.http),
			BaseURL:      cfg.Copr.URL,
			Owner:        cfg.CoprOwner(),
			OwnerIsGroup: cfg.Copr.OwnerIsGroup,
			Confirm:      confirm,
			Log:          logger,
		}
	case artifact.KindBrew:
		if !ref.ByID && cfg.Brew.BuildReference != "" {
			ref.Values = strings.Split(cfg.Brew.BuildReference, ",")
		}
		k, err := newKoji(cfg, e)
		if err != nil {
			return err
		}
		defer k.Logout()
		resolver = &artifact.BrewResolver{
			Client:  k,
			Catalog: cat,
			TaskURL: cfg.Brew.TaskIDURL,
			Log:     logger,
		}
	}

	pkg := cfg.Project.Name
	if kind == artifact.KindCopr && cfg.Copr.Package != "" {
		pkg = cfg.Copr.Package
	}

	started := time.Now()
	writer := archive.NewWriter(cfg.Common.ArchiveTasksLatest, e.archiveDir(), started, f.tags)
	d := &dispatch.Dispatcher{
		Client:  e.tf,
		APIKey:  cfg.TestingFarm.APIKey,
		Archive: writer,
		Tag:     strings.Join(f.tags, "."),
		Wait:    f.wait,
		Out:     cmd.OutOrStdout(),
		Log:     logger,
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

	run := &dispatch.TestRun{
		Resolver:   resolver,
		Dispatcher: d,
		Request: artifact.Request{
			Package:      pkg,
			Repository:   cfg.Project.Name,
			Reference:    ref,
			Targets:      targets,
			TargetsNamed: len(f.targets) > 0,
		},
		Plans: cfg.Tests.Plans,
		Params: dispatch.RunParams{
			GitURL:        cfg.Tests.GitURL,
			GitBranch:     cfg.Tests.GitBranch,
			PlanFilter:    f.planFilter,
			TestFilter:    f.testFilter,
			Arch:          f.arch,
			ArtifactType:  dispatch.ArtifactType(kind),
			Package:       cfg.Project.Name,
			BusinessUnit:  cfg.TestingFarm.CloudResourcesTag,
			UEFI:          f.uefi,
			ParallelLimit: cfg.Tests.ParallelLimit,
		},
		DryRun: f.dryRun,
		Out:    cmd.OutOrStdout(),
		Log:    logger,
	}
	return run.Execute(ctx)
}

// newKoji connects to the Brew hub, logging in with Kerberos when the
// config asks for it.
func newKoji(cfg *config.Config, e *env) (*koji.Koji, error) {
	if cfg.Brew.SessionURL == "" {
		return nil, cli.Exit(99, fmt.Errorf("brew_api.session_url is not set in %s", e.path))
	}
	k, err := koji.New(cfg.Brew.SessionURL, e.http.Transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", artifact.ErrUpstreamUnreachable, err)
	}
	if cfg.Brew.GSSAPILogin {
		if err := k.GSSAPILogin(); err != nil {
			return nil, fmt.Errorf("%w: brew login: %v", artifact.ErrUpstreamUnreachable, err)
		}
	}
	return k, nil
}

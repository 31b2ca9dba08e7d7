package testingfarm

// Artifact types accepted by the request endpoint.
const (
	ArtifactCopr = "fedora-copr-build"
	ArtifactBrew = "redhat-brew-build"
)

// Request states reported by the status endpoint.
const (
	StateNew      = "new"
	StateQueued   = "queued"
	StateRunning  = "running"
	StateComplete = "complete"
	StateError    = "error"
	StateCanceled = "canceled"
)

// Finished reports whether state is terminal.
func Finished(state string) bool {
	switch state {
	case StateComplete, StateError, StateCanceled:
		return true
	}
	return false
}

// Payload is the body of a POST to the requests endpoint.
type Payload struct {
	Test         TestSpec         `json:"test"`
	Environments []Environment    `json:"environments"`
	Settings     PipelineSettings `json:"settings"`
}

type TestSpec struct {
	FMF FMF `json:"fmf"`
}

type FMF struct {
	URL        string `json:"url"`
	Ref        string `json:"ref"`
	Name       string `json:"name"`
	PlanFilter string `json:"plan_filter,omitempty"`
	TestFilter string `json:"test_filter,omitempty"`
}

type Environment struct {
	Arch      string              `json:"arch"`
	OS        OS                  `json:"os"`
	Artifacts []Artifact          `json:"artifacts"`
	Settings  EnvironmentSettings `json:"settings"`
	TMT       TMT                 `json:"tmt"`
	Hardware  Hardware            `json:"hardware"`
}

type OS struct {
	Compose string `json:"compose"`
}

type Artifact struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Packages []string `json:"packages"`
}

type EnvironmentSettings struct {
	Provisioning Provisioning `json:"provisioning"`
}

type Provisioning struct {
	Tags map[string]string `json:"tags"`
}

type TMT struct {
	Context TMTContext `json:"context"`
}

type TMTContext struct {
	Distro     string `json:"distro"`
	Arch       string `json:"arch"`
	BootMethod string `json:"boot_method"`
}

type Hardware struct {
	Boot Boot `json:"boot"`
}

type Boot struct {
	Method string `json:"method"`
}

type PipelineSettings struct {
	Pipeline Pipeline `json:"pipeline"`
}

type Pipeline struct {
	ParallelLimit *int `json:"parallel-limit,omitempty"`
}

// Request is the part of a GET on a request URL the reporter reads.
type Request struct {
	ID                    string           `json:"id"`
	State                 string           `json:"state"`
	Created               string           `json:"created"`
	Result                *Result          `json:"result"`
	Test                  RequestTest      `json:"test"`
	EnvironmentsRequested []map[string]any `json:"environments_requested"`
}

type Result struct {
	Overall  string `json:"overall"`
	Summary  string `json:"summary"`
	XUnitURL string `json:"xunit_url"`
}

type RequestTest struct {
	FMF *RequestFMF `json:"fmf"`
}

type RequestFMF struct {
	Name       string `json:"name"`
	PlanFilter string `json:"plan_filter"`
}

// Plan returns the requested plan name, or the plan filter when no name was
// set.
func (r Request) Plan() string {
	if r.Test.FMF == nil {
		return ""
	}
	if r.Test.FMF.Name != "" {
		return r.Test.FMF.Name
	}
	return r.Test.FMF.PlanFilter
}

// Compose returns the compose of the first requested environment.
func (r Request) Compose() string {
	if len(r.EnvironmentsRequested) == 0 {
		return ""
	}
	osm, _ := r.EnvironmentsRequested[0]["os"].(map[string]any)
	c, _ := osm["compose"].(string)
	return c
}

// Overall returns result.overall or "" while there is no result yet.
func (r Request) Overall() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.Overall
}

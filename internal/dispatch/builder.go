// Package dispatch builds Testing Farm requests for resolved build targets,
// submits them and records what was sent.
package dispatch

import (
	"enge/internal/artifact"
	"enge/internal/testingfarm"
)

// RunParams are the values shared by every request of one invocation.
type RunParams struct {
	GitURL        string
	GitBranch     string
	Plan          string
	PlanFilter    string
	TestFilter    string
	Arch          string
	ArtifactType  string
	Package       string
	BusinessUnit  string
	UEFI          bool
	ParallelLimit int
}

// BootMethod is "uefi" when requested, "bios" otherwise.
func (p RunParams) BootMethod() string {
	if p.UEFI {
		return "uefi"
	}
	return "bios"
}

// ArtifactType maps a build system to the artifact type Testing Farm installs.
func ArtifactType(k artifact.Kind) string {
	if k == artifact.KindBrew {
		return testingfarm.ArtifactBrew
	}
	return testingfarm.ArtifactCopr
}

// Build returns the request payload for one target. It has no side effects;
// the API key travels in the request header, never in the payload.
func Build(t artifact.BuildTarget, p RunParams) testingfarm.Payload {
	var limit *int
	if p.ParallelLimit > 0 {
		n := p.ParallelLimit
		limit = &n
	}
	boot := p.BootMethod()
	return testingfarm.Payload{
		Test: testingfarm.TestSpec{FMF: testingfarm.FMF{
			URL:        p.GitURL,
			Ref:        p.GitBranch,
			Name:       p.Plan,
			PlanFilter: p.PlanFilter,
			TestFilter: p.TestFilter,
		}},
		Environments: []testingfarm.Environment{{
			Arch: p.Arch,
			OS:   testingfarm.OS{Compose: t.Compose},
			Artifacts: []testingfarm.Artifact{{
				ID:       t.BuildID,
				Type:     p.ArtifactType,
				Packages: []string{p.Package},
			}},
			Settings: testingfarm.EnvironmentSettings{Provisioning: testingfarm.Provisioning{
				Tags: map[string]string{"BusinessUnit": p.BusinessUnit},
			}},
			TMT: testingfarm.TMT{Context: testingfarm.TMTContext{
				Distro:     t.Distro,
				Arch:       p.Arch,
				BootMethod: boot,
			}},
			Hardware: testingfarm.Hardware{Boot: testingfarm.Boot{Method: boot}},
		}},
		Settings: testingfarm.PipelineSettings{Pipeline: testingfarm.Pipeline{ParallelLimit: limit}},
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/buildrequest"
	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
	"github.com/openwrt-firmware/imagebuilder-core/internal/resolver"
)

// Options configures one Orchestrator instance; every field mirrors a
// configuration option the build pipeline itself consults.
type Options struct {
	StorePath            string
	ImageBuilderRegistry string
	AllowDefaults        bool
	JobTimeout           time.Duration
}

// Orchestrator is C6: it composes the container driver (C5) and the
// package resolver into the nine-step build pipeline.
type Orchestrator struct {
	driver    container.Driver
	repoCheck *container.RepositoryChecker
	cache     ProbeCache
	opts      Options
	log       *logrus.Entry
}

// New builds an Orchestrator. cache may be nil, in which case the
// default-package probe always runs `make info` fresh.
func New(driver container.Driver, cache ProbeCache, opts Options) *Orchestrator {
	return &Orchestrator{
		driver:    driver,
		repoCheck: container.NewRepositoryChecker(),
		cache:     cache,
		opts:      opts,
		log:       logrus.WithField("component", "orchestrator"),
	}
}

// Outcome is what Build reports back to the worker loop for persistence
// and for the per-terminal-transition counters.
type Outcome struct {
	Result       jobstore.Result
	Changes      []resolver.Change
	BuildCommand string
	Failed       bool
	ErrMsg       string
}

// Build runs the full pipeline for req, whose canonical fingerprint is
// fingerprint. skipResolve honors the prepare/skip_package_resolution
// contract: the caller's package list is used verbatim and the resolver step
// is omitted, but the default-probe and manifest steps still run.
func (o *Orchestrator) Build(ctx context.Context, req *buildrequest.Request, fingerprint string, skipResolve bool) Outcome {
	start := time.Now()

	buildCtx, cancel := context.WithTimeout(ctx, o.opts.JobTimeout)
	defer cancel()

	tag := container.ImageTag(o.opts.ImageBuilderRegistry, req.Version, req.Target, req.Subtarget)

	if err := o.driver.Pull(buildCtx, tag); err != nil {
		return failOutcome(fail(PhasePull, "%v", err))
	}

	if len(req.Repositories) > 0 {
		if err := o.repoCheck.Check(buildCtx, req.Repositories); err != nil {
			return failOutcome(fail(PhaseRepoCheck, "%v", err))
		}
	}

	finalPackages := req.Packages
	var changes []resolver.Change
	defaultPkgs, err := probeDefaultPackages(buildCtx, o.driver, o.cache, tag, req.Version, req.Target, req.Subtarget, req.Profile, o.opts.JobTimeout)
	if err != nil {
		return failOutcome(err)
	}
	if !skipResolve {
		result, err := resolver.Resolve(resolver.Input{
			Version:         req.Version,
			Target:          req.Target,
			Subtarget:       req.Subtarget,
			Profile:         req.Profile,
			Packages:        req.Packages,
			PackageVersions: req.PackagesVersions,
			DiffPackages:    req.DiffPackages,
			Defaults:        defaultPkgs,
		})
		if err != nil {
			return failOutcome(fail(PhaseResolve, "%v", err))
		}
		finalPackages = result.Packages
		changes = result.Changes
	}

	artifactDir := filepath.Join(o.opts.StorePath, fingerprint)
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return failOutcome(fail(PhaseBuild, "preparing artifact directory: %v", err))
	}

	filesDir := filepath.Join(artifactDir, "files")
	var stages []*Stage
	if req.Defaults != "" && o.opts.AllowDefaults {
		stages = append(stages, NewUCIDefaultsStage(req.Defaults))
	}
	if len(req.Repositories) > 0 {
		stages = append(stages, NewRepositoriesStage(req.Repositories, req.RepositoryKeys)...)
	}

	var mounts []container.Mount
	if len(stages) > 0 {
		for _, stage := range stages {
			target := filepath.Join(filesDir, strings.TrimPrefix(stage.Path, "files/"))
			if err := writeStage(stage, target); err != nil {
				return failOutcome(fail(PhaseBuild, "writing %s: %v", stage.Kind, err))
			}
		}
		mounts = append(mounts, container.Mount{
			HostPath:      filesDir,
			ContainerPath: "/builder/files",
			ReadOnly:      true,
		})
	}

	mounts = append(mounts, container.Mount{
		HostPath:      artifactDir,
		ContainerPath: "/builder/bin",
		ReadOnly:      false,
	})

	buildCmd := buildCommand(req.Profile, finalPackages, req.RootFSSizeMB)
	buildResult, err := o.driver.Run(buildCtx, tag, buildCmd, nil, mounts, "/builder", o.opts.JobTimeout)
	if err != nil {
		if buildCtx.Err() != nil {
			return failOutcome(fail(PhaseBuild, "timeout"))
		}
		return failOutcome(fail(PhaseBuild, "%v", err))
	}
	if buildResult.ExitCode != 0 {
		return failOutcome(fail(PhaseBuild, "make image exited %d", buildResult.ExitCode))
	}

	manifest, err := runManifest(buildCtx, o.driver, tag, req.Profile, mounts)
	if err != nil {
		return failOutcome(err)
	}

	artifacts, err := discoverArtifacts(artifactDir)
	if err != nil {
		return failOutcome(fail(PhaseDiscover, "%v", err))
	}
	if len(artifacts) == 0 {
		return failOutcome(fail(PhaseDiscover, "no artifacts produced"))
	}

	return Outcome{
		Result: jobstore.Result{
			Fingerprint:  fingerprint,
			Artifacts:    artifacts,
			Manifest:     manifest,
			BuiltAt:      time.Now().UTC(),
			DurationSecs: time.Since(start).Seconds(),
		},
		Changes:      changes,
		BuildCommand: strings.Join(buildCmd, " "),
	}
}

func failOutcome(err error) Outcome {
	return Outcome{Failed: true, ErrMsg: err.Error()}
}

func buildCommand(profile string, packages []string, rootfsMB int) []string {
	cmd := []string{"make", "image", fmt.Sprintf("PROFILE=%s", profile), fmt.Sprintf("PACKAGES=%s", strings.Join(packages, " "))}
	if rootfsMB > 0 {
		cmd = append(cmd, fmt.Sprintf("ROOTFS_PARTSIZE=%d", rootfsMB))
	}
	return cmd
}

func writeStage(stage *Stage, target string) error {
	content, err := stage.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return os.WriteFile(target, content, os.FileMode(stage.Mode))
}

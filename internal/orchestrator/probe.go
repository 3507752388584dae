package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
)

// probeCacheTTL bounds how long a memoized default-package probe is
// trusted before it is re-run. Not a configurable option; the cache is
// purely advisory, so a fixed value here cannot affect correctness, only
// how often `make info` gets re-invoked.
const probeCacheTTL = 24 * time.Hour

// ProbeCache is the narrow interface the orchestrator needs from the job
// store's metadata cache ("default-package probe caching").
// internal/jobstore.Store satisfies it structurally.
type ProbeCache interface {
	GetProbeCache(ctx context.Context, key string) (json.RawMessage, bool, error)
	PutProbeCache(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// probeKey identifies a (version, target, subtarget, profile) combination
// for memoization purposes.
func probeKey(version, target, subtarget, profile string) string {
	return fmt.Sprintf("%s/%s/%s/%s", version, target, subtarget, profile)
}

// probeDefaultPackages runs `make info` inside the ImageBuilder container
// (no mounts), parses the combined output, and extracts the
// "Default Packages:" line. An absent line yields
// an empty default set, not an error.
func probeDefaultPackages(ctx context.Context, driver container.Driver, cache ProbeCache, tag, version, target, subtarget, profile string, timeout time.Duration) ([]string, error) {
	key := probeKey(version, target, subtarget, profile)

	if cache != nil {
		if raw, hit, err := cache.GetProbeCache(ctx, key); err == nil && hit {
			var pkgs []string
			if err := json.Unmarshal(raw, &pkgs); err == nil {
				return pkgs, nil
			}
		}
	}

	result, err := driver.Run(ctx, tag, []string{"make", "info"}, nil, nil, "", timeout)
	if err != nil {
		return nil, fail(PhaseInfoProbe, "%v", err)
	}
	if result.ExitCode != 0 {
		return nil, fail(PhaseInfoProbe, "make info exited %d", result.ExitCode)
	}

	pkgs := parseDefaultPackagesLine(result.CombinedOutput)

	if cache != nil {
		if raw, err := json.Marshal(pkgs); err == nil {
			_ = cache.PutProbeCache(ctx, key, raw, probeCacheTTL)
		}
	}

	return pkgs, nil
}

// ProbeDefaultPackages exposes probeDefaultPackages to callers outside
// the orchestrator — specifically the prepare() handler,
// which needs a real default-package set to produce a meaningful
// resolver preview but must not run a full build to get one. A cache hit
// here costs nothing; a miss costs exactly the one `make info` call the
// build would have paid anyway.
func ProbeDefaultPackages(ctx context.Context, driver container.Driver, cache ProbeCache, tag, version, target, subtarget, profile string, timeout time.Duration) ([]string, error) {
	return probeDefaultPackages(ctx, driver, cache, tag, version, target, subtarget, profile, timeout)
}

func parseDefaultPackagesLine(output string) []string {
	const prefix = "Default Packages:"
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
		if rest == "" {
			return nil
		}
		return strings.Fields(rest)
	}
	return nil
}

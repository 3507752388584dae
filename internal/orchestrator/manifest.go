package orchestrator

import (
	"context"
	"time"

	"github.com/openwrt-firmware/imagebuilder-core/internal/container"
)

// manifestTimeout bounds the second container invocation. `make manifest`
// only reads state `make image` already produced, so it needs nowhere
// near the full per-job deadline.
const manifestTimeout = 2 * time.Minute

// runManifest invokes `make manifest PROFILE=<profile>` in a second
// container invocation and returns the driver's combined output as the
// manifest text; stdout is not separated from stderr, so anything the
// command writes to stderr ends up in the manifest too. The same bind mounts as the build step are
// reused so the manifest reflects the packages actually installed.
func runManifest(ctx context.Context, driver container.Driver, tag, profile string, mounts []container.Mount) (string, error) {
	result, err := driver.Run(ctx, tag, []string{"make", "manifest", "PROFILE=" + profile}, nil, mounts, "/builder", manifestTimeout)
	if err != nil {
		return "", fail(PhaseManifest, "%v", err)
	}
	if result.ExitCode != 0 {
		return "", fail(PhaseManifest, "make manifest exited %d", result.ExitCode)
	}
	if result.CombinedOutput == "" {
		return "", fail(PhaseManifest, "empty manifest output")
	}
	return result.CombinedOutput, nil
}

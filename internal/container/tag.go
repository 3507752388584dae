package container

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// ImageTag computes the ImageBuilder image tag from (registry, version,
// target, subtarget): "<registry>:<version>-<target>-<subtarget>".
func ImageTag(registry, version, target, subtarget string) string {
	return fmt.Sprintf("%s:%s-%s-%s", registry, version, target, subtarget)
}

// ValidateDigest confirms that an ImageBuilder image's reported digest is
// well-formed; DockerDriver.Pull calls it on the registry's manifest
// descriptor before accepting a freshly pulled image. It does
// not verify any signature ("does not verify image
// signatures beyond passing them through").
func ValidateDigest(raw string) (digest.Digest, error) {
	d := digest.Digest(raw)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("container: invalid image digest %q: %w", raw, err)
	}
	return d, nil
}

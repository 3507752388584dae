// Package recovery implements C10: the startup sweep that reconciles
// BUILDING jobs left behind by a prior process crash ("crash
// recovery"). Because every build runs inside an ephemeral container that
// dies with the process, a BUILDING row surviving to the next startup can
// only be stale — there is no live worker to finish it.
package recovery

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

// Store is the narrow slice of internal/jobstore.Store the sweep needs.
type Store interface {
	ListBuilding(ctx context.Context) ([]jobstore.Job, error)
	Requeue(ctx context.Context, fingerprint string) error
	Fail(ctx context.Context, fingerprint, errMsg string) error
}

// Sweep reconciles every BUILDING job found in store: jobs whose artifact
// directory under storePath is empty or absent are re-queued (the build
// never got far enough to leave partial state); jobs with a non-empty
// artifact directory are failed outright, since a partial ImageBuilder
// output tree cannot be trusted to resume or to serve as a result.
func Sweep(ctx context.Context, store Store, storePath string) (requeued, failed int, err error) {
	log := logrus.WithField("component", "recovery")

	stale, err := store.ListBuilding(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, job := range stale {
		empty, statErr := artifactDirEmpty(filepath.Join(storePath, job.Fingerprint))
		if statErr != nil {
			log.WithError(statErr).WithField("fingerprint", job.Fingerprint).Warn("recovery: could not inspect artifact directory, failing job")
			empty = false
		}

		if empty {
			if err := store.Requeue(ctx, job.Fingerprint); err != nil {
				return requeued, failed, err
			}
			requeued++
			log.WithField("fingerprint", job.Fingerprint).Info("recovery: re-queued stale BUILDING job")
			continue
		}

		if err := store.Fail(ctx, job.Fingerprint, "recover: partial artifact tree from a prior crash"); err != nil {
			return requeued, failed, err
		}
		failed++
		log.WithField("fingerprint", job.Fingerprint).Warn("recovery: failed stale BUILDING job with partial artifacts")
	}

	return requeued, failed, nil
}

// artifactDirEmpty reports true when dir does not exist or contains no
// entries; a non-existent directory means the build crashed before
// writing anything, which is the same "safe to retry" case as an empty one.
func artifactDirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwrt-firmware/imagebuilder-core/internal/jobstore"
)

type fakeStore struct {
	building []jobstore.Job
	requeued []string
	failed   []string
}

func (f *fakeStore) ListBuilding(ctx context.Context) ([]jobstore.Job, error) {
	return f.building, nil
}

func (f *fakeStore) Requeue(ctx context.Context, fingerprint string) error {
	f.requeued = append(f.requeued, fingerprint)
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, fingerprint, errMsg string) error {
	f.failed = append(f.failed, fingerprint)
	return nil
}

func TestSweepRequeuesEmptyArtifactDirs(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{building: []jobstore.Job{{Fingerprint: "abc"}}}

	requeued, failed, err := Sweep(context.Background(), store, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"abc"}, store.requeued)
}

func TestSweepFailsPartialArtifactDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "def"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "def", "openwrt.bin"), []byte("x"), 0644))
	store := &fakeStore{building: []jobstore.Job{{Fingerprint: "def"}}}

	requeued, failed, err := Sweep(context.Background(), store, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"def"}, store.failed)
}

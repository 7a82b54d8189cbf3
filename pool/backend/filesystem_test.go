package backend_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsldankers/fruitbak/fingerprint"
	"github.com/wsldankers/fruitbak/pool/backend"
)

func drainHas(t *testing.T, b *backend.Filesystem, fp fingerprint.Fingerprint) bool {
	t.Helper()
	var wg sync.WaitGroup
	var found bool
	var err error
	wg.Add(1)
	b.Has(fp, func(f bool, e error) { found, err = f, e; wg.Done() })
	wg.Wait()
	require.NoError(t, err)
	return found
}

func drainPut(t *testing.T, b *backend.Filesystem, fp fingerprint.Fingerprint, value []byte) {
	t.Helper()
	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	b.Put(fp, value, func(e error) { err = e; wg.Done() })
	wg.Wait()
	require.NoError(t, err)
}

func drainGet(t *testing.T, b *backend.Filesystem, fp fingerprint.Fingerprint) ([]byte, error) {
	t.Helper()
	var wg sync.WaitGroup
	var value []byte
	var err error
	wg.Add(1)
	b.Get(fp, func(v []byte, e error) { value, err = v, e; wg.Done() })
	wg.Wait()
	return value, err
}

func drainDel(t *testing.T, b *backend.Filesystem, fp fingerprint.Fingerprint) {
	t.Helper()
	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	b.Del(fp, func(e error) { err = e; wg.Done() })
	wg.Wait()
	require.NoError(t, err)
}

func TestFilesystemPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := backend.NewFilesystem(dir, 2)
	require.NoError(t, err)

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)

	data := []byte("chunk contents")
	fp := hash(data)

	assert.False(t, drainHas(t, fs, fp))

	drainPut(t, fs, fp, data)
	assert.True(t, drainHas(t, fs, fp))

	got, err := drainGet(t, fs, fp)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFilesystemGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	fs, err := backend.NewFilesystem(dir, 2)
	require.NoError(t, err)

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)
	fp := hash([]byte("never written"))

	_, err = drainGet(t, fs, fp)
	require.Error(t, err)
	assert.True(t, backend.NotFound(err))
}

func TestFilesystemPutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	fs, err := backend.NewFilesystem(dir, 2)
	require.NoError(t, err)

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)
	data := []byte("same bytes twice")
	fp := hash(data)

	drainPut(t, fs, fp, data)
	drainPut(t, fs, fp, data) // must not error on a second write of the same chunk

	got, err := drainGet(t, fs, fp)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFilesystemDelThenListOmitsChunk(t *testing.T) {
	dir := t.TempDir()
	fs, err := backend.NewFilesystem(dir, 2)
	require.NoError(t, err)

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)

	var fps []fingerprint.Fingerprint
	for _, s := range []string{"one", "two", "three"} {
		fp := hash([]byte(s))
		drainPut(t, fs, fp, []byte(s))
		fps = append(fps, fp)
	}

	drainDel(t, fs, fps[1])
	assert.False(t, drainHas(t, fs, fps[1]))

	lister := fs.List()
	defer lister.Close()
	var listed []string
	for {
		fp, ok, err := lister.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		listed = append(listed, fp.String())
	}
	assert.Len(t, listed, 2)
	assert.NotContains(t, listed, fps[1].String())
	assert.Contains(t, listed, fps[0].String())
	assert.Contains(t, listed, fps[2].String())
}

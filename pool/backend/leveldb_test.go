package backend_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsldankers/fruitbak/fingerprint"
	"github.com/wsldankers/fruitbak/pool/backend"
)

func TestLevelDBPutGetDelRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunks.leveldb")
	b, err := backend.NewLevelDBBackend(dbPath, 2)
	require.NoError(t, err)
	defer b.Close()

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)
	data := []byte("leveldb chunk")
	fp := hash(data)

	assert.False(t, syncHas(t, b, fp))

	require.NoError(t, syncPut(t, b, fp, data))
	assert.True(t, syncHas(t, b, fp))

	got, err := syncGet(t, b, fp)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, syncDel(t, b, fp))
	assert.False(t, syncHas(t, b, fp))
}

func TestLevelDBGetMissingReturnsNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunks.leveldb")
	b, err := backend.NewLevelDBBackend(dbPath, 2)
	require.NoError(t, err)
	defer b.Close()

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)

	_, err = syncGet(t, b, hash([]byte("absent")))
	require.Error(t, err)
	assert.True(t, backend.NotFound(err))
}

func TestLevelDBListInKeyOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chunks.leveldb")
	b, err := backend.NewLevelDBBackend(dbPath, 2)
	require.NoError(t, err)
	defer b.Close()

	hash, _, err := fingerprint.New("sha256")
	require.NoError(t, err)

	for _, s := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, syncPut(t, b, hash([]byte(s)), []byte(s)))
	}

	lister := b.List()
	defer lister.Close()
	var keys []string
	for {
		fp, ok, err := lister.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		keys = append(keys, string(fp))
	}
	assert.Len(t, keys, 3)
	assert.True(t, sortedStrings(keys), "expected leveldb listing to come back in key order, got %v", keys)
}

func sortedStrings(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] > ss[i] {
			return false
		}
	}
	return true
}

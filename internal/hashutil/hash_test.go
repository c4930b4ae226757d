package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHashDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("some audio bytes"), 0o644))

	for _, alg := range []string{"sha256", "xxh64"} {
		h1, err := File(path, alg)
		require.NoError(t, err)
		h2, err := File(path, alg)
		require.NoError(t, err)
		assert.Equal(t, h1, h2, alg)
		assert.NotEmpty(t, h1)
	}
}

func TestFileHashDiffersByContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, []byte("content a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("content b"), 0o644))

	ha, err := File(a, "sha256")
	require.NoError(t, err)
	hb, err := File(b, "sha256")
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestUnknownAlgorithmRejected(t *testing.T) {
	_, err := File("/nonexistent", "md5")
	assert.Error(t, err)
}

func TestDefaultAlgorithmIsSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	def, err := File(path, "")
	require.NoError(t, err)
	sha, err := File(path, "sha256")
	require.NoError(t, err)
	assert.Equal(t, sha, def)
}

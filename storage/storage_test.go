package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	has, err := s.Has(ctx, "root")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Get(ctx, "root")
	assert.ErrorIs(t, err, ErrNotFound)

	content := []byte("bafy")
	err = s.Put(ctx, "root", content)
	require.NoError(t, err)

	// mutating the input must not change the stored value
	content[0] = 'x'

	has, err = s.Has(ctx, "root")
	require.NoError(t, err)
	assert.True(t, has)

	value, err := s.Get(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []byte("bafy"), value)

	err = s.Put(ctx, "\x01q\x12 binary", []byte{1, 2, 3})
	require.NoError(t, err)

	lister, ok := s.(Lister)
	require.True(t, ok)

	keys, err := lister.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"\x01q\x12 binary", "root"}, keys)
}

func TestMemory(t *testing.T) {
	testStorage(t, NewMemory())
}

func TestDirectory(t *testing.T) {
	s, err := NewDirectory(t.TempDir())
	require.NoError(t, err)

	testStorage(t, s)
}

func TestDirectoryReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewDirectory(dir)
	require.NoError(t, err)

	err = s.Put(ctx, "root", []byte("value"))
	require.NoError(t, err)

	s, err = NewDirectory(dir)
	require.NoError(t, err)

	r, err := s.(*directory).GetStream(ctx, "root")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "value", string(data))
}

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpAndFetchRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Dump("boiler1.runtime", 1, []byte("payload")))

	version, data, err := s.Fetch("boiler1.runtime")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.Equal(t, []byte("payload"), data)
}

func TestDumpOverwritesExistingBlob(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Dump("pump1.cycles", 1, []byte("old")))
	require.NoError(t, s.Dump("pump1.cycles", 2, []byte("new")))

	version, data, err := s.Fetch("pump1.cycles")
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, []byte("new"), data)
}

func TestFetchMissingNameReturnsErrNotFound(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.Fetch("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

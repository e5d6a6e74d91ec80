package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/replay"
)

func TestArtifactCache_StoreThenLookup(t *testing.T) {
	s := openMemStore(t)
	cache := s.NewArtifactCache()

	_, ok, err := cache.Lookup("fp1")
	require.NoError(t, err)
	require.False(t, ok)

	artifact := replay.Artifact{
		Response: json.RawMessage(`{"text":"hi"}`),
		Scores:   replay.JudgeScore{Pass: true, Margin: 0.9},
	}
	require.NoError(t, cache.Store("fp1", artifact))

	got, ok, err := cache.Lookup("fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"text":"hi"}`, string(got.Response))
	require.Equal(t, 0.9, got.Scores.Margin)
}

func TestArtifactCache_StoreOverwritesExisting(t *testing.T) {
	s := openMemStore(t)
	cache := s.NewArtifactCache()

	require.NoError(t, cache.Store("fp1", replay.Artifact{Response: json.RawMessage(`{"text":"first"}`)}))
	require.NoError(t, cache.Store("fp1", replay.Artifact{Response: json.RawMessage(`{"text":"second"}`)}))

	got, ok, err := cache.Lookup("fp1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"text":"second"}`, string(got.Response))
}

package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministicShuffle_SameSeedSamePermutation(t *testing.T) {
	a := deterministicShuffle(10, 42)
	b := deterministicShuffle(10, 42)
	require.Equal(t, a, b)
}

func TestDeterministicShuffle_DifferentSeedsDiffer(t *testing.T) {
	a := deterministicShuffle(20, 1)
	b := deterministicShuffle(20, 2)
	require.NotEqual(t, a, b)
}

func TestSeeds_StringEncoding(t *testing.T) {
	s := Seeds{OrderSeed: 18446744073709551615, JudgeSeed: 7, HasJudge: true}
	require.Equal(t, "18446744073709551615", s.OrderSeedString())
	js, ok := s.JudgeSeedString()
	require.True(t, ok)
	require.Equal(t, "7", js)

	noJudge := Seeds{OrderSeed: 1}
	_, ok = noJudge.JudgeSeedString()
	require.False(t, ok)
}

func TestParseSeed_RejectsInvalid(t *testing.T) {
	_, err := ParseSeed("-1")
	require.Error(t, err)
	_, err = ParseSeed("not-a-number")
	require.Error(t, err)

	v, err := ParseSeed("42")
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}

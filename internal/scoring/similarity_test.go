package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimilarityIdenticalTextIsOne(t *testing.T) {
	for _, text := range []string{"hello world", "가나다라 마바사", "a", "The cat. The cat!"} {
		require.Equal(t, 1.0, Similarity(text, text), text)
	}
}

func TestSimilarityEmptyAfterNormalisationIsZero(t *testing.T) {
	require.Equal(t, 0.0, Similarity("", "hello"))
	require.Equal(t, 0.0, Similarity("hello", "   \n\t "))
	require.Equal(t, 0.0, Similarity(" ", " "))
}

func TestSimilarityIgnoresWhitespaceOnly(t *testing.T) {
	require.Equal(t, 1.0, Similarity("hello world", "hel lo\nwor\tld"))
	require.Less(t, Similarity("Hello", "hello"), 1.0)
	require.Less(t, Similarity("hello.", "hello"), 1.0)
}

func TestSimilarityMatchesCanonicalRatios(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		// difflib.SequenceMatcher(None, a, b).ratio()
		{"abcd", "bcde", 0.75},
		{"abc", "xyz", 0},
		{"abxcd", "abcd", 8.0 / 9.0},
		{"private", "privet", 10.0 / 13.0},
		{"ab", "ba", 0.5},
	}
	for _, tc := range cases {
		require.InDelta(t, tc.want, Similarity(tc.a, tc.b), 1e-12, "%q vs %q", tc.a, tc.b)
	}
}

func TestSimilarityIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"hello world", "world hello"},
		{"나는 학교에 간다", "너는 학교에 갔다"},
		{"the quick brown fox", "a quick brown dog"},
		{"abcdef", "fedcba"},
	}
	for _, p := range pairs {
		require.InDelta(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), 1e-12, "%q / %q", p[0], p[1])
	}
}

func TestSimilarityStaysInUnitRange(t *testing.T) {
	texts := []string{"x", "에세이 본문입니다.", "lorem ipsum dolor sit amet", "aaaaab", "baaaaa"}
	for _, a := range texts {
		for _, b := range texts {
			got := Similarity(a, b)
			require.GreaterOrEqual(t, got, 0.0)
			require.LessOrEqual(t, got, 1.0)
		}
	}
}

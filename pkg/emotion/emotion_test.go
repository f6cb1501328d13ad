package emotion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryLiteral(t *testing.T) {
	require.Equal(t, []string{"Anger", "Contempt", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprise"}, Categories)
	require.Equal(t, NumClasses, len(Categories))
}

func TestLabelIndexRoundTrip(t *testing.T) {
	for i, c := range Categories {
		require.Equal(t, c, Label(i))
		require.Equal(t, i, Index(c))
	}
	require.Equal(t, -1, Index("Bored"))
	require.Equal(t, "class9", Label(9))
}

func TestDisplayNames(t *testing.T) {
	for lang, names := range displayNames {
		require.Len(t, names, NumClasses, lang)
	}
	require.Equal(t, "Vui", DisplayName(LangVietnamese, Index("Happy")))
	require.Equal(t, "Happy", DisplayName("xx", Index("Happy")))
	require.Equal(t, "Sad", DisplayName(LangEnglish, 6))
}

func TestVerifyCategories(t *testing.T) {
	require.NoError(t, VerifyCategories([]string{"Anger", "Contempt", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprise"}))
	require.Error(t, VerifyCategories([]string{"Contempt", "Anger", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprise"}))
	require.Error(t, VerifyCategories(Categories[:7]))
}

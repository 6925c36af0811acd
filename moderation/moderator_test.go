package moderation

import (
	"dm-lab/errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// The dictionary avoids short words that would collide inside longer ones.
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"scammer", "phishing", "spoiler"}, replacementChar)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Single word keeps surrounding text",
			input:    "That scammer again",
			expected: "That ******* again",
			words:    []string{"scammer"},
		},
		{
			name:     "Repeated word",
			input:    "spoiler spoiler",
			expected: "******* *******",
			words:    []string{"spoiler", "spoiler"},
		},
		{
			name:     "Leet speak across punctuation",
			input:    "Beware of 5.c.4.m.m.€.r ok",
			expected: "Beware of ************* ok",
			words:    []string{"scammer"},
		},
		{
			name:     "Uppercase with separators",
			input:    "P-H-I-S-H-I-N-G and a SPOILER",
			expected: "*************** and a *******",
			words:    []string{"phishing", "spoiler"},
		},
		{
			name:     "Accented text around a match",
			input:    "Un été sans spoiler",
			expected: "Un été sans *******",
			words:    []string{"spoiler"},
		},
		{
			name:     "Trailing punctuation is kept",
			input:    "No spoiler!",
			expected: "No *******!",
			words:    []string{"spoiler"},
		},
		{
			name:     "Clean message",
			input:    "See you tomorrow",
			expected: "See you tomorrow",
		},
		{
			name:     "Empty message",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestModerator_Ignores_Noise_Only_Words(t *testing.T) {
	req := require.New(t)

	// Given a dictionary polluted with punctuation-only entries
	mod, err := NewModerator([]string{"...", ",,,", "", "scammer"}, replacementChar)
	req.NoError(err)

	// Then real words are still censored
	content, words := mod.Censor("The scammer left")
	req.Equal("The ******* left", content)
	req.Equal([]string{"scammer"}, words)

	// And punctuation in messages is left alone
	content, words = mod.Censor("Hello ...")
	req.Equal("Hello ...", content)
	req.Nil(words)
}

func TestModerator_Review_Detects_Language(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"arnaque"}, replacementChar)
	req.NoError(err)

	verdict := mod.Review("Bonjour à tous, attention cette offre est une arnaque, ne cliquez pas sur le lien")

	req.True(verdict.Censored())
	req.Equal([]string{"arnaque"}, verdict.CensoredWords)
	req.NotContains(verdict.Content, "arnaque")
	req.Equal("fr", verdict.Lang)
}

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"censored/en.txt":    {Data: []byte("scammer\r\nspoiler\n\n")},
		"censored/fr.txt":    {Data: []byte("arnaque\nspoiler\n")},
		"censored/README.md": {Data: []byte("not a dictionary")},
	}

	data, err := NewCensoredLoader(fsys).LoadAll("censored")

	req.NoError(err)
	req.Equal([]string{"en", "fr"}, data.Languages)
	req.Equal([]string{"arnaque", "scammer", "spoiler"}, data.Words)
}

func TestCensoredLoader_Empty_Dictionaries(t *testing.T) {
	fsys := fstest.MapFS{"censored/en.txt": {Data: []byte("\n  \n")}}

	_, err := NewCensoredLoader(fsys).LoadAll("censored")
	require.ErrorIs(t, err, errors.ErrEmptyWords)
}

func TestCensoredLoader_Embedded(t *testing.T) {
	req := require.New(t)

	data, err := NewEmbeddedLoader().LoadAll("censored")

	req.NoError(err)
	req.NotEmpty(data.Words)
	req.Contains(data.Languages, "en")
}

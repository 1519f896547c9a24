package cloudinary

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSanitizePublicID(t *testing.T) {
	cases := map[string]string{
		"file-8/page-1/question-3": "file-8/page-1/question-3",
		"":                         "region",
		"--/":                      "region",
		"file 8/page.1":            "file-8/page-1",
		"/file_8/q?3/":             "file_8/q-3",
	}
	for input, expected := range cases {
		require.Equal(t, expected, sanitizePublicID(input), input)
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)

	svc, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/grading/crops/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "grading/crops", svc.folder)

	svc, err = New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "gema/grading/regions", svc.folder)
}

package pages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestValidateURL_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"ftp://example.com/file",
		"javascript:alert(1)",
		"/relative/path",
		"not a url at\nall",
	} {
		_, err := ValidateURL(raw)
		require.Errorf(t, err, "expected rejection for %q", raw)
	}

	got, err := ValidateURL("https://Example.com/page?z=1&a=2")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/page?a=2&z=1", got)
}

func TestSlugFromURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pricing", SlugFromURL("https://example.com/product/pricing"))
	require.Equal(t, "", SlugFromURL("https://example.com/"))
	require.Equal(t, "about", SlugFromURL("https://example.com/about/"))
}

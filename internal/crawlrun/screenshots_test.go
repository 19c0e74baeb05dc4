package crawlrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirScreenshotStore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	st, err := NewDirScreenshotStore(root)
	require.NoError(t, err)

	ref, err := st.Save(context.Background(), "site-1", "page-1", []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "site-1", "page-1.png"), ref)

	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
}

func TestDirScreenshotStore_RequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := NewDirScreenshotStore("")
	require.Error(t, err)
}

package memory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "reports/run/crawl_output.md", "text/markdown", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/run/crawl_output.md", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Get("reports/run/crawl_output.md")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/markdown", contentType)

	stored[0] = 'X'
	again, _, _ := store.Get("reports/run/crawl_output.md")
	require.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.md", "a.md"} {
		_, err := store.PutObject(context.Background(), p, "", strings.NewReader(p))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.md", "b.md"}, store.Paths())

	_, _, ok := store.Get("missing.md")
	require.False(t, ok)
}

func TestBlobStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "x.md", "", failingReader{})
	require.ErrorContains(t, err, "read object data")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.ErrorContains(t, err, "storage client is required")

	_, err = Open(context.Background(), Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{prefix: "", name: "example.com/ab/abc.html", want: "example.com/ab/abc.html"},
		{prefix: "minigist/pages", name: "/example.com/abc.html", want: "minigist/pages/example.com/abc.html"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, objectName(tt.prefix, tt.name))
	}
}

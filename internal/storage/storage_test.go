package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateImage(t *testing.T) {
	require.NoError(t, ValidateImage(1024, "image/png"))
	require.True(t, errors.Is(ValidateImage(MaxImageSize+1, "image/png"), ErrFileTooLarge))
	require.True(t, errors.Is(ValidateImage(10, "application/pdf"), ErrUnsupportedType))
	require.True(t, errors.Is(ValidateImage(0, "image/png"), ErrEmptyFile))
}

func TestImageKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	key := ImageKey("u1", "s1", "cat.JPG", now)
	require.True(t, strings.HasPrefix(key, "u1/s1/images/1700000000000-"))
	require.True(t, strings.HasSuffix(key, ".JPG"))

	require.True(t, strings.HasSuffix(ImageKey("u1", "s1", "noext", now), ".bin"))
}

func TestPublicURL(t *testing.T) {
	s := &S3Store{bucket: "collab-files", publicURL: "http://minio:9000/collab-files"}
	require.Equal(t, "http://minio:9000/collab-files/u1/a.png", s.PublicURL("/u1/a.png"))
}

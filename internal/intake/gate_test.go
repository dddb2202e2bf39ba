package intake

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcal/internal/models"
)

// sizedSource declares a size without holding the bytes.
type sizedSource struct {
	mediaType string
	size      int64
	opened    bool
}

func (s *sizedSource) Name() string      { return "upload" }
func (s *sizedSource) MediaType() string { return s.mediaType }
func (s *sizedSource) Size() int64       { return s.size }

func (s *sizedSource) Open() (io.ReadCloser, error) {
	s.opened = true
	return nil, io.EOF
}

func TestGate_Admit_RejectsNonImageRegardlessOfSize(t *testing.T) {
	gate := NewGate()
	for _, mt := range []string{"application/pdf", "text/plain", "", "image/gif", "video/mp4"} {
		for _, size := range []int64{0, 1024, MaxImageBytes, 10 * MaxImageBytes} {
			src := &sizedSource{mediaType: mt, size: size}
			img, err := gate.Admit(src)
			require.Error(t, err, "type=%q size=%d", mt, size)
			assert.Nil(t, img)
			assert.Equal(t, models.KindInvalidType, models.KindOf(err))
			assert.False(t, src.opened, "gate must not read pixel data")
		}
	}
}

func TestGate_Admit_RejectsTooLarge(t *testing.T) {
	gate := NewGate()
	for _, mt := range []string{"image/png", "image/jpeg"} {
		for _, size := range []int64{MaxImageBytes, MaxImageBytes + 1, 6 * 1024 * 1024} {
			_, err := gate.Admit(&sizedSource{mediaType: mt, size: size})
			require.Error(t, err)
			assert.ErrorIs(t, err, &models.PipelineError{Kind: models.KindTooLarge})
		}
	}
}

func TestGate_Admit_AcceptsPNGAndJPEG(t *testing.T) {
	gate := NewGate()
	for _, mt := range []string{"image/png", "image/jpeg", "IMAGE/JPEG", "image/png; charset=binary"} {
		src := &sizedSource{mediaType: mt, size: 2 * 1024 * 1024}
		img, err := gate.Admit(src)
		require.NoError(t, err, mt)
		assert.Equal(t, int64(2*1024*1024), img.Size())
		assert.False(t, src.opened)
	}
}

func TestRawImage_ReleaseBlocksOpen(t *testing.T) {
	img, err := NewGate().Admit(BytesSource("a.png", "image/png", []byte("png")))
	require.NoError(t, err)

	rc, err := img.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "png", string(data))

	img.Release()
	img.Release()
	assert.True(t, img.Released())
	_, err = img.Open()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestFileSource_DeclaredTypeFromExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flyer.JPG")
	require.NoError(t, os.WriteFile(path, []byte("not really a jpeg"), 0o600))

	src, err := FileSource(path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", src.MediaType())
	assert.Equal(t, int64(17), src.Size())
	assert.Equal(t, "flyer.JPG", src.Name())

	_, err = FileSource(dir)
	assert.Error(t, err)
	_, err = FileSource(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

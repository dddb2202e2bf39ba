package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"snapcal/internal/models"
)

// MaxImageBytes is the size ceiling for an admitted image (5 MiB).
const MaxImageBytes int64 = 5 * 1024 * 1024

// ErrReleased is returned when a released image is opened again.
var ErrReleased = errors.New("image already released")

var acceptedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// Source is a user-supplied file awaiting admission. The gate only inspects the
// declared metadata; Open is called later by the text extraction stage.
type Source interface {
	Name() string
	MediaType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// RawImage is an admitted image. It is transient: the holder must call Release
// once text extraction is done, on every exit path.
type RawImage struct {
	name      string
	mediaType string
	size      int64

	mu       sync.Mutex
	src      Source
	released bool
}

// Name returns the original file name.
func (r *RawImage) Name() string { return r.name }

// MediaType returns the declared media type.
func (r *RawImage) MediaType() string { return r.mediaType }

// Size returns the declared byte size.
func (r *RawImage) Size() int64 { return r.size }

// Open returns a reader over the image bytes.
func (r *RawImage) Open() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, ErrReleased
	}
	return r.src.Open()
}

// Release drops the payload handle. It is safe to call more than once.
func (r *RawImage) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.src = nil
}

// Released reports whether Release has been called.
func (r *RawImage) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Gate validates files before they enter the pipeline.
type Gate struct {
	maxBytes int64
}

// NewGate creates a gate with the standard 5 MiB ceiling.
func NewGate() *Gate {
	return &Gate{maxBytes: MaxImageBytes}
}

// Admit validates the declared type and size of src. The type is checked first,
// so a non-image is always InvalidType regardless of its size.
func (g *Gate) Admit(src Source) (*RawImage, error) {
	if src == nil {
		return nil, models.NewError(models.StageIntake, models.KindInvalidType, "no file supplied")
	}

	mediaType := normalizeMediaType(src.MediaType())
	if !acceptedTypes[mediaType] {
		return nil, models.NewError(models.StageIntake, models.KindInvalidType,
			fmt.Sprintf("unsupported media type %q", src.MediaType()))
	}

	if src.Size() >= g.maxBytes {
		return nil, models.NewError(models.StageIntake, models.KindTooLarge,
			fmt.Sprintf("%d bytes exceeds the %d byte limit", src.Size(), g.maxBytes))
	}

	return &RawImage{
		name:      src.Name(),
		mediaType: mediaType,
		size:      src.Size(),
		src:       src,
	}, nil
}

// normalizeMediaType strips parameters and lowercases a media type.
func normalizeMediaType(raw string) string {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mt
}

// fileSource is a Source backed by a path on disk.
type fileSource struct {
	path      string
	mediaType string
	size      int64
}

// FileSource builds a Source for path. The declared type comes from the file
// extension; the content is not read.
func FileSource(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	return &fileSource{
		path:      path,
		mediaType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		size:      info.Size(),
	}, nil
}

func (f *fileSource) Name() string      { return filepath.Base(f.path) }
func (f *fileSource) MediaType() string { return f.mediaType }
func (f *fileSource) Size() int64       { return f.size }

func (f *fileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// bytesSource is an in-memory Source.
type bytesSource struct {
	name      string
	mediaType string
	data      []byte
}

// BytesSource builds a Source over an in-memory payload.
func BytesSource(name, mediaType string, data []byte) Source {
	return &bytesSource{name: name, mediaType: mediaType, data: data}
}

func (b *bytesSource) Name() string      { return b.name }
func (b *bytesSource) MediaType() string { return b.mediaType }
func (b *bytesSource) Size() int64       { return int64(len(b.data)) }

func (b *bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

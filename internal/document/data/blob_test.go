package data

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memObject struct {
	data        []byte
	contentType string
}

// memBackend 内存对象后端
type memBackend struct {
	mu      sync.Mutex
	objects map[string]memObject
	putErr  error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string]memObject{}}
}

func (b *memBackend) put(_ context.Context, key string, data []byte, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (b *memBackend) get(_ context.Context, key string) (io.ReadCloser, objectMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, objectMeta{}, errNoSuchObject
	}
	return io.NopCloser(bytes.NewReader(obj.data)), objectMeta{size: int64(len(obj.data)), contentType: obj.contentType}, nil
}

func (b *memBackend) stat(ctx context.Context, key string) (objectMeta, error) {
	rc, meta, err := b.get(ctx, key)
	if err != nil {
		return objectMeta{}, err
	}
	_ = rc.Close()
	return meta, nil
}

func (b *memBackend) remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBackend) presign(_ context.Context, key, contentType string, maxSize int64, expires time.Time) (*presignedForm, error) {
	return &presignedForm{
		method: "POST",
		url:    "https://storage.test/medora",
		fields: map[string]string{"key": key, "Content-Type": contentType},
	}, nil
}

func (b *memBackend) bucket() string { return "medora" }

func (b *memBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func newTestBlobStore(t *testing.T) (*BlobStore, *memBackend) {
	t.Helper()
	backend := newMemBackend()
	cfg := DefaultBlobConfig()
	cfg.PublicBaseURL = "https://cdn.medora.test/"
	cfg.MaxUploadBytes = 1 << 20
	store := newBlobStore(backend, cfg, zap.NewNop())
	store.newID = func() string { return "0b5f3c1e-8d8a-4a57-9f0e-3c2b1a0d9e8f" }
	return store, backend
}

func encodeImage(t *testing.T, format imaging.Format, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

func TestBlobStore_UploadPDF(t *testing.T) {
	store, backend := newTestBlobStore(t)
	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 128)...)

	ref, err := store.Upload(context.Background(), biz.BlobUpload{
		OwnerID:     "u1",
		FileName:    "lab.pdf",
		ContentType: "application/pdf",
		Data:        data,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1/0b5f3c1e-8d8a-4a57-9f0e-3c2b1a0d9e8f.pdf", ref.ExternalID)
	assert.Equal(t, "https://cdn.medora.test/medora/"+ref.ExternalID, ref.URL)
	assert.Equal(t, "pdf", ref.Format)
	assert.Empty(t, ref.ThumbnailURL)
	assert.EqualValues(t, len(data), ref.SizeBytes)
	assert.True(t, backend.has(ref.ExternalID))
}

func TestBlobStore_UploadImageCreatesThumbnail(t *testing.T) {
	store, backend := newTestBlobStore(t)
	data := encodeImage(t, imaging.PNG, 640, 480)

	ref, err := store.Upload(context.Background(), biz.BlobUpload{OwnerID: "u1", FileName: "scan.png", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "png", ref.Format)
	assert.Equal(t, "https://cdn.medora.test/medora/u1/thumbs/0b5f3c1e-8d8a-4a57-9f0e-3c2b1a0d9e8f.jpg", ref.ThumbnailURL)

	rc, _, err := backend.get(context.Background(), "u1/thumbs/0b5f3c1e-8d8a-4a57-9f0e-3c2b1a0d9e8f.jpg")
	require.NoError(t, err)
	thumb, err := imaging.Decode(rc)
	require.NoError(t, err)
	assert.Equal(t, 320, thumb.Bounds().Dx())
	assert.Equal(t, 240, thumb.Bounds().Dy())
}

func TestBlobStore_UploadJPEGStripsMetadata(t *testing.T) {
	store, backend := newTestBlobStore(t)
	plain := encodeImage(t, imaging.JPEG, 64, 32)
	data := withJPEGSegments(plain, exifSegment(1), comSegment("patient: Jane Doe"))

	ref, err := store.Upload(context.Background(), biz.BlobUpload{OwnerID: "u1", FileName: "photo.jpg", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "jpg", ref.Format)

	stored := backend.objects[ref.ExternalID]
	assert.Equal(t, "image/jpeg", stored.contentType)
	// 像素数据不重新编码
	assert.Equal(t, plain, stored.data)
	assert.EqualValues(t, len(plain), ref.SizeBytes)
}

func TestBlobStore_UploadJPEGAppliesOrientation(t *testing.T) {
	store, backend := newTestBlobStore(t)
	data := withJPEGSegments(encodeImage(t, imaging.JPEG, 64, 32), exifSegment(6))

	ref, err := store.Upload(context.Background(), biz.BlobUpload{OwnerID: "u1", FileName: "photo.jpg", Data: data})
	require.NoError(t, err)

	stored := backend.objects[ref.ExternalID].data
	_, orientation, err := stripJPEG(stored)
	require.NoError(t, err)
	assert.Zero(t, orientation)

	img, err := imaging.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestBlobStore_UploadRejections(t *testing.T) {
	tests := []struct {
		name    string
		in      biz.BlobUpload
		wantErr error
	}{
		{name: "missing owner", in: biz.BlobUpload{Data: []byte("%PDF-1.4")}, wantErr: biz.ErrValidationFailed},
		{name: "empty", in: biz.BlobUpload{OwnerID: "u1"}, wantErr: biz.ErrValidationFailed},
		{name: "too large", in: biz.BlobUpload{OwnerID: "u1", Data: make([]byte, 1<<20+1)}, wantErr: biz.ErrValidationFailed},
		{
			name:    "html is not allowed",
			in:      biz.BlobUpload{OwnerID: "u1", FileName: "x.pdf", ContentType: "application/pdf", Data: []byte("<!DOCTYPE html><html><script>alert(1)</script></html>")},
			wantErr: biz.ErrValidationFailed,
		},
		{
			name:    "plain text is not allowed",
			in:      biz.BlobUpload{OwnerID: "u1", FileName: "notes.txt", Data: []byte("blood pressure 120/80")},
			wantErr: biz.ErrValidationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, backend := newTestBlobStore(t)
			_, err := store.Upload(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, backend.objects)
		})
	}
}

func TestBlobStore_UploadTransportFailure(t *testing.T) {
	store, backend := newTestBlobStore(t)
	backend.putErr = errors.New("connection reset")

	_, err := store.Upload(context.Background(), biz.BlobUpload{OwnerID: "u1", Data: []byte("%PDF-1.4\n1 0 obj")})
	assert.ErrorIs(t, err, biz.ErrUploadFailed)
}

func TestBlobStore_DeleteRemovesThumbnail(t *testing.T) {
	store, backend := newTestBlobStore(t)
	ref, err := store.Upload(context.Background(), biz.BlobUpload{OwnerID: "u1", Data: encodeImage(t, imaging.PNG, 32, 32)})
	require.NoError(t, err)
	thumbKey := thumbnailKey(ref.ExternalID)
	require.True(t, backend.has(thumbKey))

	require.NoError(t, store.Delete(context.Background(), ref.ExternalID))
	assert.False(t, backend.has(ref.ExternalID))
	assert.False(t, backend.has(thumbKey))

	// 重复删除
	assert.NoError(t, store.Delete(context.Background(), ref.ExternalID))
}

func TestBlobStore_OpenAndStatMissing(t *testing.T) {
	store, _ := newTestBlobStore(t)

	_, _, err := store.Open(context.Background(), "u1/missing.pdf")
	assert.ErrorIs(t, err, biz.ErrNotFound)

	_, err = store.Stat(context.Background(), "u1/missing.pdf")
	assert.ErrorIs(t, err, biz.ErrNotFound)
}

func TestBlobStore_PresignUpload(t *testing.T) {
	store, _ := newTestBlobStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	p, err := store.PresignUpload(context.Background(), "u1", "Scan.JPEG", "")
	require.NoError(t, err)
	assert.Equal(t, "u1/0b5f3c1e-8d8a-4a57-9f0e-3c2b1a0d9e8f.jpg", p.ExternalID)
	assert.Equal(t, "POST", p.Method)
	assert.Equal(t, p.ExternalID, p.Fields["key"])
	assert.Equal(t, now.Add(15*time.Minute), p.ExpiresAt)

	_, err = store.PresignUpload(context.Background(), "u1", "page.html", "text/html")
	assert.ErrorIs(t, err, biz.ErrValidationFailed)
}

func TestThumbnailKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "u1/abc.png", want: "u1/thumbs/abc.jpg"},
		{in: "u1/abc", want: "u1/thumbs/abc.jpg"},
		{in: "u1/thumbs/abc.jpg", want: ""},
		{in: "abc.png", want: ""},
		{in: "/abc.png", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, thumbnailKey(tt.in))
		})
	}
}

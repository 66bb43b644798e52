package biz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/medora-backend/internal/pkg/logger"
	"github.com/lk2023060901/medora-backend/internal/pkg/workerpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDocumentRepo 内存版记录存储，语义与 gorm 实现一致
type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[string]*Document
	now  func() time.Time

	createErr error
	deleteErr error
	updateErr map[string]error
	afterList func()
	// deleteFilter 按 id 注入删除失败
	deleteFilter func(id string) error
	// maxPageSize 模拟存储层的单页上限
	maxPageSize int
}

func newFakeDocumentRepo(now func() time.Time) *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: map[string]*Document{}, now: now, updateErr: map[string]error{}}
}

func cloneDocument(d *Document) *Document {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	if d.Share != nil {
		s := *d.Share
		s.SharedWith = slices.Clone(d.Share.SharedWith)
		c.Share = &s
	}
	return &c
}

func (r *fakeDocumentRepo) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if doc.OwnerID == "" || doc.BlobRef.ExternalID == "" || doc.FileInfo.SizeBytes <= 0 {
		return NewError(ErrValidationFailed, "incomplete document")
	}
	for _, existing := range r.docs {
		if existing.BlobRef.ExternalID == doc.BlobRef.ExternalID {
			return NewError(ErrConflict, "blob already referenced")
		}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := r.now()
	doc.UploadedAt = now
	doc.UpdatedAt = now
	doc.Version = 1
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *fakeDocumentRepo) GetByID(_ context.Context, id string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, notFoundError(id)
	}
	return cloneDocument(d), nil
}

func (r *fakeDocumentRepo) Query(_ context.Context, ownerID string, f DocumentFilter) ([]*Document, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Document
	for _, d := range r.docs {
		if d.OwnerID != ownerID {
			continue
		}
		switch f.Trashed {
		case TrashOnly:
			if !d.IsTrashed {
				continue
			}
		case TrashAny:
		default:
			if d.IsTrashed {
				continue
			}
		}
		if f.StarredOnly && !d.IsStarred {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.PatientID != "" && d.PatientID != f.PatientID {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.Search)) {
			continue
		}
		if f.UploadedAfter != nil && !d.UploadedAt.After(*f.UploadedAfter) {
			continue
		}
		out = append(out, cloneDocument(d))
	}

	key := func(d *Document) time.Time {
		switch {
		case f.Trashed == TrashOnly && d.TrashedAt != nil:
			return *d.TrashedAt
		case f.StarredOnly && d.StarredAt != nil:
			return *d.StarredAt
		}
		return d.UploadedAt
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return out[i].ID < out[j].ID
	})

	total := int64(len(out))
	if r.maxPageSize > 0 && f.PageSize > r.maxPageSize {
		f.PageSize = r.maxPageSize
	}
	if f.PageSize > 0 {
		page := max(f.Page, 1)
		start := min((page-1)*f.PageSize, len(out))
		end := min(start+f.PageSize, len(out))
		out = out[start:end]
	}
	return out, total, nil
}

func (r *fakeDocumentRepo) Update(_ context.Context, id string, expectedVersion int64, upd DocumentUpdate) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateErr[id]; err != nil {
		return nil, err
	}
	d, ok := r.docs[id]
	if !ok {
		return nil, notFoundError(id)
	}
	if d.Version != expectedVersion {
		return nil, NewError(ErrConflict, "stale version %d", expectedVersion)
	}

	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Category != nil {
		d.Category = *upd.Category
	}
	if upd.CategoryLabel != nil {
		d.CategoryLabel = *upd.CategoryLabel
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	if upd.Tags != nil {
		d.Tags = slices.Clone(*upd.Tags)
	}
	if upd.PatientID != nil {
		d.PatientID = *upd.PatientID
	}
	if upd.Star != nil {
		d.IsStarred, d.StarredAt = upd.Star.IsStarred, upd.Star.StarredAt
	}
	if upd.Trash != nil {
		d.IsTrashed, d.TrashedAt = upd.Trash.IsTrashed, upd.Trash.TrashedAt
	}
	if upd.ClearShare {
		d.Share = nil
	}
	if upd.Share != nil {
		s := *upd.Share
		s.SharedWith = slices.Clone(upd.Share.SharedWith)
		if !upd.ResetShareCounters && d.Share != nil {
			s.ViewCount, s.DownloadCount = d.Share.ViewCount, d.Share.DownloadCount
		}
		if upd.ResetShareCounters {
			s.ViewCount, s.DownloadCount = 0, 0
		}
		d.Share = &s
	}
	d.UpdatedAt = r.now()
	d.Version++
	return cloneDocument(d), nil
}

func (r *fakeDocumentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if r.deleteFilter != nil {
		if err := r.deleteFilter(id); err != nil {
			return err
		}
	}
	if _, ok := r.docs[id]; !ok {
		return notFoundError(id)
	}
	delete(r.docs, id)
	return nil
}

func (r *fakeDocumentRepo) DeleteTrashedBefore(_ context.Context, id string, version int64, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	d, ok := r.docs[id]
	if !ok || d.Version != version || !d.IsTrashed || d.TrashedAt == nil || !d.TrashedAt.Before(cutoff) {
		return false, nil
	}
	delete(r.docs, id)
	return true, nil
}

func (r *fakeDocumentRepo) GetByShareID(_ context.Context, shareID string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.Share != nil && d.Share.ShareID == shareID && !d.IsTrashed {
			return cloneDocument(d), nil
		}
	}
	return nil, NewError(ErrNotFound, "share %s not found", shareID)
}

func (r *fakeDocumentRepo) increment(shareID string, field func(*ShareSettings) *int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.Share != nil && d.Share.ShareID == shareID {
			p := field(d.Share)
			*p++
			return *p, nil
		}
	}
	return 0, NewError(ErrNotFound, "share %s not found", shareID)
}

func (r *fakeDocumentRepo) IncrementShareViews(_ context.Context, shareID string) (int64, error) {
	return r.increment(shareID, func(s *ShareSettings) *int64 { return &s.ViewCount })
}

func (r *fakeDocumentRepo) IncrementShareDownloads(_ context.Context, shareID string) (int64, error) {
	return r.increment(shareID, func(s *ShareSettings) *int64 { return &s.DownloadCount })
}

func (r *fakeDocumentRepo) ListTrashedBefore(_ context.Context, cutoff time.Time, limit int) ([]*Document, error) {
	out := r.listTrashedBefore(cutoff, limit)
	if r.afterList != nil {
		r.afterList()
	}
	return out, nil
}

func (r *fakeDocumentRepo) listTrashedBefore(cutoff time.Time, limit int) []*Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Document
	for _, d := range r.docs {
		if d.IsTrashed && d.TrashedAt != nil && d.TrashedAt.Before(cutoff) {
			out = append(out, cloneDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrashedAt.Before(*out[j].TrashedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *fakeDocumentRepo) CountCategories(_ context.Context, ownerID string) ([]CategoryCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, d := range r.docs {
		if d.OwnerID == ownerID && !d.IsTrashed {
			counts[d.Category]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, CategoryCount{Category: k, Count: v})
	}
	return out, nil
}

func (r *fakeDocumentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// fakeLedgerRepo 内存版账本
type fakeLedgerRepo struct {
	mu      sync.Mutex
	ledgers map[string]*StorageLedger
	addErr  error
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{ledgers: map[string]*StorageLedger{}}
}

func (r *fakeLedgerRepo) EnsureInitialized(_ context.Context, ownerID string, quotaBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledgers[ownerID]; !ok {
		r.ledgers[ownerID] = &StorageLedger{OwnerID: ownerID, QuotaBytes: quotaBytes}
	}
	return nil
}

func (r *fakeLedgerRepo) Add(_ context.Context, ownerID string, bytes int64) (*LedgerAddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return nil, r.addErr
	}
	l, ok := r.ledgers[ownerID]
	if !ok {
		return nil, fmt.Errorf("ledger for %s missing", ownerID)
	}
	if l.TotalBytes+bytes > l.QuotaBytes {
		return &LedgerAddResult{Success: false, NewTotal: l.TotalBytes, QuotaExceeded: true}, nil
	}
	l.TotalBytes += bytes
	l.TotalFiles++
	return &LedgerAddResult{Success: true, NewTotal: l.TotalBytes}, nil
}

func (r *fakeLedgerRepo) Remove(_ context.Context, ownerID string, bytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[ownerID]
	if !ok {
		return nil
	}
	l.TotalBytes = max(l.TotalBytes-bytes, 0)
	l.TotalFiles = max(l.TotalFiles-1, 0)
	return nil
}

func (r *fakeLedgerRepo) Get(_ context.Context, ownerID string) (*StorageLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[ownerID]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (r *fakeLedgerRepo) set(ownerID string, total, quota int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[ownerID] = &StorageLedger{OwnerID: ownerID, TotalBytes: total, QuotaBytes: quota}
}

// fakeBlobStore 内存版对象存储
type fakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	deleted  []string
	afterPut func()
	onDelete func(externalID string)

	uploadErr error
	deleteErr error
}

type fakeObject struct {
	data        []byte
	contentType string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string]fakeObject{}}
}

func (s *fakeBlobStore) Upload(_ context.Context, in BlobUpload) (*BlobRef, error) {
	s.mu.Lock()
	if s.uploadErr != nil {
		s.mu.Unlock()
		return nil, s.uploadErr
	}
	ext := path.Ext(in.FileName)
	key := in.OwnerID + "/" + uuid.NewString() + ext
	s.objects[key] = fakeObject{data: slices.Clone(in.Data), contentType: in.ContentType}
	hook := s.afterPut
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &BlobRef{
		ExternalID: key,
		URL:        "https://blobs.test/" + key,
		Format:     strings.TrimPrefix(ext, "."),
		SizeBytes:  int64(len(in.Data)),
	}, nil
}

func (s *fakeBlobStore) Delete(_ context.Context, externalID string) error {
	if s.onDelete != nil {
		s.onDelete(externalID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, externalID)
	s.deleted = append(s.deleted, externalID)
	return nil
}

func (s *fakeBlobStore) Open(_ context.Context, externalID string) (io.ReadCloser, *BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[externalID]
	if !ok {
		return nil, nil, NewError(ErrNotFound, "blob %s not found", externalID)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), &BlobInfo{
		ExternalID:  externalID,
		ContentType: obj.contentType,
		SizeBytes:   int64(len(obj.data)),
	}, nil
}

func (s *fakeBlobStore) Stat(_ context.Context, externalID string) (*BlobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[externalID]
	if !ok {
		return nil, NewError(ErrNotFound, "blob %s not found", externalID)
	}
	return &BlobInfo{
		ExternalID:  externalID,
		URL:         "https://blobs.test/" + externalID,
		ContentType: obj.contentType,
		SizeBytes:   int64(len(obj.data)),
	}, nil
}

func (s *fakeBlobStore) PresignUpload(_ context.Context, ownerID, fileName, contentType string) (*PresignedUpload, error) {
	key := ownerID + "/" + uuid.NewString() + path.Ext(fileName)
	return &PresignedUpload{
		Method:     "POST",
		URL:        "https://blobs.test/upload",
		Fields:     map[string]string{"key": key, "Content-Type": contentType},
		ExternalID: key,
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}, nil
}

func (s *fakeBlobStore) put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = fakeObject{data: data, contentType: contentType}
}

func (s *fakeBlobStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeBlobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// fakeLimiter 内存版密码尝试计数
type fakeLimiter struct {
	mu       sync.Mutex
	attempts map[string]int64
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{attempts: map[string]int64{}}
}

func (l *fakeLimiter) RecordAttempt(_ context.Context, shareID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[shareID]++
	return l.attempts[shareID], nil
}

func (l *fakeLimiter) Reset(_ context.Context, shareID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, shareID)
	return nil
}

// testClock 可手动推进的时钟
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testEnv 组装用例与所有 fake
type testEnv struct {
	clock   *testClock
	repo    *fakeDocumentRepo
	ledger  *fakeLedgerRepo
	blobs   *fakeBlobStore
	limiter *fakeLimiter
	quota   *QuotaUseCase
	docs    *DocumentUseCase
	shares  *ShareUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewNop()
	clock := newTestClock()

	pool, err := workerpool.New(&workerpool.Config{Workers: 4, ReleaseTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)

	env := &testEnv{
		clock:   clock,
		repo:    newFakeDocumentRepo(clock.Now),
		ledger:  newFakeLedgerRepo(),
		blobs:   newFakeBlobStore(),
		limiter: newFakeLimiter(),
	}
	env.quota = NewQuotaUseCase(env.ledger, 1000, log)
	env.docs = NewDocumentUseCase(env.repo, env.blobs, env.quota, pool, DefaultPolicy(), log)
	env.docs.now = clock.Now
	env.shares = NewShareUseCase(env.repo, env.blobs, env.limiter, &ShareConfig{
		BaseURL:             "https://medora.test/",
		MaxPasswordAttempts: 3,
		BcryptCost:          4,
	}, log)
	env.shares.now = clock.Now
	return env
}

// 最小可识别的文件内容
var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

// pdfOfSize 生成指定大小的 PDF 内容
func pdfOfSize(n int) []byte {
	if n <= len(pdfHeader) {
		return slices.Clone(pdfHeader[:n])
	}
	return append(slices.Clone(pdfHeader), bytes.Repeat([]byte{' '}, n-len(pdfHeader))...)
}

// uploadPDF 上传一个指定大小的 PDF
func (e *testEnv) uploadPDF(t *testing.T, ownerID string, size int) *Document {
	t.Helper()
	doc, err := e.docs.Upload(context.Background(), ownerID, UploadDocumentRequest{
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		Data:        pdfOfSize(size),
		Metadata:    DocumentMetadata{Name: "Blood panel", Category: "lab_results"},
	})
	require.NoError(t, err)
	return doc
}

func (e *testEnv) ledgerOf(t *testing.T, ownerID string) *StorageLedger {
	t.Helper()
	l, err := e.ledger.Get(context.Background(), ownerID)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

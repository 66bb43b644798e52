package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/medora-backend/internal/document/biz"
	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
	"github.com/lk2023060901/medora-backend/internal/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOwner = "owner-1"

var fixedTime = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

// stubDocs 记录调用参数并返回预设结果
type stubDocs struct {
	doc    *biz.Document
	docs   []*biz.Document
	batch  *biz.BatchResult
	err    error
	policy *biz.Policy

	gotOwner   string
	gotID      string
	gotVersion int64
	gotUpload  biz.UploadDocumentRequest
	gotList    biz.ListDocumentsRequest
	gotUpdate  biz.UpdateMetadataRequest
	gotIDs     []string
}

func (s *stubDocs) Policy() *biz.Policy {
	if s.policy == nil {
		return biz.DefaultPolicy()
	}
	return s.policy
}

func (s *stubDocs) Upload(_ context.Context, ownerID string, req biz.UploadDocumentRequest) (*biz.Document, error) {
	s.gotOwner, s.gotUpload = ownerID, req
	return s.doc, s.err
}

func (s *stubDocs) PresignUpload(_ context.Context, ownerID, fileName, contentType string) (*biz.PresignedUpload, error) {
	s.gotOwner = ownerID
	if s.err != nil {
		return nil, s.err
	}
	return &biz.PresignedUpload{Method: "POST", URL: "https://s3.test", ExternalID: ownerID + "/x.pdf", Fields: map[string]string{"key": ownerID + "/x.pdf"}}, nil
}

func (s *stubDocs) ConfirmUpload(_ context.Context, ownerID string, req biz.ConfirmUploadRequest) (*biz.Document, error) {
	s.gotOwner = ownerID
	return s.doc, s.err
}

func (s *stubDocs) Get(_ context.Context, ownerID, id string) (*biz.Document, error) {
	s.gotOwner, s.gotID = ownerID, id
	return s.doc, s.err
}

func (s *stubDocs) List(_ context.Context, ownerID string, req biz.ListDocumentsRequest) ([]*biz.Document, int64, error) {
	s.gotOwner, s.gotList = ownerID, req
	return s.docs, int64(len(s.docs)), s.err
}

func (s *stubDocs) Categories(context.Context, string) ([]biz.CategoryCount, error) {
	return []biz.CategoryCount{{Category: "lab_results", Label: "Lab Results", Count: 2}}, s.err
}

func (s *stubDocs) UpdateMetadata(_ context.Context, ownerID, id string, req biz.UpdateMetadataRequest) (*biz.Document, error) {
	s.gotOwner, s.gotID, s.gotUpdate = ownerID, id, req
	return s.doc, s.err
}

func (s *stubDocs) lifecycle(ownerID, id string, v int64) (*biz.Document, error) {
	s.gotOwner, s.gotID, s.gotVersion = ownerID, id, v
	return s.doc, s.err
}

func (s *stubDocs) Star(_ context.Context, o, id string, v int64) (*biz.Document, error) {
	return s.lifecycle(o, id, v)
}

func (s *stubDocs) Unstar(_ context.Context, o, id string, v int64) (*biz.Document, error) {
	return s.lifecycle(o, id, v)
}

func (s *stubDocs) Trash(_ context.Context, o, id string, v int64) (*biz.Document, error) {
	return s.lifecycle(o, id, v)
}

func (s *stubDocs) Restore(_ context.Context, o, id string, v int64) (*biz.Document, error) {
	return s.lifecycle(o, id, v)
}

func (s *stubDocs) PermanentlyDelete(_ context.Context, ownerID, id string) error {
	s.gotOwner, s.gotID = ownerID, id
	return s.err
}

func (s *stubDocs) bulk(ownerID string, ids []string) (*biz.BatchResult, error) {
	s.gotOwner, s.gotIDs = ownerID, ids
	return s.batch, s.err
}

func (s *stubDocs) BulkRestore(_ context.Context, o string, ids []string) (*biz.BatchResult, error) {
	return s.bulk(o, ids)
}

func (s *stubDocs) BulkTrash(_ context.Context, o string, ids []string) (*biz.BatchResult, error) {
	return s.bulk(o, ids)
}

func (s *stubDocs) BulkDelete(_ context.Context, o string, ids []string) (*biz.BatchResult, error) {
	return s.bulk(o, ids)
}

func (s *stubDocs) EmptyTrash(_ context.Context, o string) (*biz.BatchResult, error) {
	return s.bulk(o, nil)
}

type stubQuota struct {
	ledger *biz.StorageLedger
}

func (q *stubQuota) Get(context.Context, string) (*biz.StorageLedger, error) {
	return q.ledger, nil
}

func sampleDocument() *biz.Document {
	return &biz.Document{
		ID:            "doc-1",
		OwnerID:       testOwner,
		Name:          "Blood panel",
		Category:      "lab_results",
		CategoryLabel: "Lab Results",
		FileInfo:      biz.FileInfo{Name: "panel.pdf", SizeBytes: 100, MimeType: "application/pdf", FileTypeCategory: biz.FileTypePDF},
		BlobRef:       biz.BlobRef{ExternalID: testOwner + "/x.pdf", Format: "pdf", SizeBytes: 100},
		Share:         &biz.ShareSettings{ShareID: "tok", AccessLevel: biz.AccessView, PasswordHash: "$2a$secret", CreatedAt: fixedTime},
		UploadedAt:    fixedTime,
		UpdatedAt:     fixedTime,
		Version:       3,
	}
}

// newTestRouter 注入固定用户后挂载路由
func newTestRouter(docs *stubDocs, quota *stubQuota, shares *stubShares) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := r.Group("/api/v1", func(c *gin.Context) {
		if c.GetHeader("X-Test-Anonymous") == "" {
			c.Set("user_id", testOwner)
			c.Set("email", "owner@example.com")
		}
		c.Next()
	})
	NewDocumentService(docs, quota, shares, zap.NewNop()).RegisterRoutes(authed)
	NewShareService(shares, zap.NewNop()).RegisterRoutes(authed, r.Group("/api/v1"))
	return r
}

func doRequest(r http.Handler, method, target string, body io.Reader, headers map[string]string) (*httptest.ResponseRecorder, response.Response) {
	req := httptest.NewRequest(method, target, body)
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestDocumentService_Get(t *testing.T) {
	docs := &stubDocs{doc: sampleDocument()}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/documents/doc-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"3"`, w.Header().Get("ETag"))
	assert.Equal(t, testOwner, docs.gotOwner)
	assert.Equal(t, "doc-1", docs.gotID)

	data := resp.Data.(map[string]interface{})
	share := data["share"].(map[string]interface{})
	assert.Equal(t, "https://medora.test/share/tok", share["url"])
	assert.NotContains(t, w.Body.String(), "$2a$secret")
}

func TestDocumentService_Unauthenticated(t *testing.T) {
	r := newTestRouter(&stubDocs{}, &stubQuota{}, &stubShares{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/documents", nil, map[string]string{"X-Test-Anonymous": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.ErrUnauthorized, resp.Code)
}

func TestDocumentService_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{name: "not found", err: biz.NewError(biz.ErrNotFound, "document x not found"), wantStatus: http.StatusNotFound, wantCode: apperrors.ErrDocNotFound},
		{name: "conflict", err: biz.NewError(biz.ErrConflict, "stale"), wantStatus: http.StatusConflict, wantCode: apperrors.ErrDocConflict},
		{name: "quota", err: biz.NewError(biz.ErrQuotaExceeded, "full"), wantStatus: http.StatusForbidden, wantCode: apperrors.ErrDocQuotaExceeded},
		{name: "metadata", err: biz.NewError(biz.ErrMetadataSaveFailed, "db down"), wantStatus: http.StatusInternalServerError, wantCode: apperrors.ErrDocMetadataSaveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubDocs{err: tt.err}, &stubQuota{}, &stubShares{})
			w, resp := doRequest(r, http.MethodPost, "/api/v1/documents/doc-1/trash", nil, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestDocumentService_IfMatch(t *testing.T) {
	tests := []struct {
		header      string
		wantStatus  int
		wantVersion int64
	}{
		{header: "", wantStatus: http.StatusOK, wantVersion: 0},
		{header: "7", wantStatus: http.StatusOK, wantVersion: 7},
		{header: `"7"`, wantStatus: http.StatusOK, wantVersion: 7},
		{header: `W/"7"`, wantStatus: http.StatusOK, wantVersion: 7},
		{header: "*", wantStatus: http.StatusOK, wantVersion: 0},
		{header: "abc", wantStatus: http.StatusBadRequest},
		{header: "0", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			docs := &stubDocs{doc: sampleDocument()}
			r := newTestRouter(docs, &stubQuota{}, &stubShares{})
			headers := map[string]string{}
			if tt.header != "" {
				headers["If-Match"] = tt.header
			}
			w, _ := doRequest(r, http.MethodPost, "/api/v1/documents/doc-1/star", nil, headers)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantVersion, docs.gotVersion)
			}
		})
	}
}

func TestDocumentService_Update(t *testing.T) {
	docs := &stubDocs{doc: sampleDocument()}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, _ := doRequest(r, http.MethodPatch, "/api/v1/documents/doc-1",
		strings.NewReader(`{"name":"Renamed","tags":["a","b"]}`), map[string]string{"If-Match": "3"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, docs.gotUpdate.Name)
	assert.Equal(t, "Renamed", *docs.gotUpdate.Name)
	assert.Nil(t, docs.gotUpdate.Category)
	require.NotNil(t, docs.gotUpdate.Tags)
	assert.Equal(t, []string{"a", "b"}, *docs.gotUpdate.Tags)
	assert.EqualValues(t, 3, docs.gotUpdate.ExpectedVersion)
}

func TestDocumentService_List(t *testing.T) {
	docs := &stubDocs{docs: []*biz.Document{sampleDocument()}}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/documents?view=starred&category=lab_results&q=blood&page=2&page_size=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, biz.ViewStarred, docs.gotList.View)
	assert.Equal(t, "lab_results", docs.gotList.Category)
	assert.Equal(t, "blood", docs.gotList.Search)
	assert.Equal(t, 2, docs.gotList.Page)

	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["total"])
	assert.EqualValues(t, 10, data["page_size"])

	w, _ = doRequest(r, http.MethodGet, "/api/v1/documents?page_size=1000", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentService_Upload(t *testing.T) {
	docs := &stubDocs{doc: sampleDocument()}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "panel.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4 test"))
	require.NoError(t, mw.WriteField("name", "Blood panel"))
	require.NoError(t, mw.WriteField("category", "lab_results"))
	require.NoError(t, mw.WriteField("tags", "a"))
	require.NoError(t, mw.WriteField("tags", "b"))
	require.NoError(t, mw.Close())

	w, resp := doRequest(r, http.MethodPost, "/api/v1/documents", &body, map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, apperrors.Success, resp.Code)
	assert.Equal(t, "panel.pdf", docs.gotUpload.FileName)
	assert.Equal(t, []byte("%PDF-1.4 test"), docs.gotUpload.Data)
	assert.Equal(t, "Blood panel", docs.gotUpload.Metadata.Name)
	assert.Equal(t, []string{"a", "b"}, docs.gotUpload.Metadata.Tags)
}

func TestDocumentService_UploadMissingFile(t *testing.T) {
	r := newTestRouter(&stubDocs{}, &stubQuota{}, &stubShares{})
	w, resp := doRequest(r, http.MethodPost, "/api/v1/documents", strings.NewReader(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ErrBadRequest, resp.Code)
}

func TestDocumentService_Batch(t *testing.T) {
	docs := &stubDocs{batch: &biz.BatchResult{
		TotalCount:   3,
		SuccessCount: 2,
		FailedCount:  1,
		FailedItems:  []biz.BatchFailure{{DocumentID: "c", Error: "not found", Code: apperrors.ErrDocNotFound}},
	}}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, resp := doRequest(r, http.MethodPost, "/api/v1/documents/batch/restore", strings.NewReader(`{"document_ids":["a","b","c"]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "c"}, docs.gotIDs)

	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 2, data["success_count"])
	items := data["failed_items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].(map[string]interface{})["document_id"])

	w, _ = doRequest(r, http.MethodPost, "/api/v1/documents/batch/delete", strings.NewReader(`{"document_ids":[]}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentService_DeleteAndEmptyTrash(t *testing.T) {
	docs := &stubDocs{batch: &biz.BatchResult{FailedItems: []biz.BatchFailure{}}}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, _ := doRequest(r, http.MethodDelete, "/api/v1/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "doc-1", docs.gotID)

	w, _ = doRequest(r, http.MethodDelete, "/api/v1/trash", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocumentService_Storage(t *testing.T) {
	quota := &stubQuota{ledger: &biz.StorageLedger{TotalBytes: 250, TotalFiles: 2, QuotaBytes: 1000}}
	r := newTestRouter(&stubDocs{}, quota, &stubShares{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/storage", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 750, data["available_bytes"])
	assert.EqualValues(t, 25, data["quota_percentage"])
	assert.Equal(t, false, data["quota_exceeded"])
}

func TestDocumentService_Presign(t *testing.T) {
	docs := &stubDocs{}
	r := newTestRouter(docs, &stubQuota{}, &stubShares{})

	w, resp := doRequest(r, http.MethodPost, "/api/v1/documents/presign",
		strings.NewReader(`{"file_name":"x.pdf","content_type":"application/pdf"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, testOwner+"/x.pdf", data["external_id"])

	w, _ = doRequest(r, http.MethodPost, "/api/v1/documents/presign", strings.NewReader(`{"file_name":"x.pdf"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

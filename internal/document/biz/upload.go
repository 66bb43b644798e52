package biz

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// DocumentMetadata 上传时填写的元数据
type DocumentMetadata struct {
	Name        string
	Category    string
	Description string
	Tags        []string
	PatientID   string
}

// UploadDocumentRequest 服务端中转上传请求
type UploadDocumentRequest struct {
	FileName    string
	ContentType string
	Data        []byte
	Metadata    DocumentMetadata
}

// ConfirmUploadRequest 直传完成确认请求
type ConfirmUploadRequest struct {
	ExternalID string
	FileName   string
	Metadata   DocumentMetadata
}

type validatedMetadata struct {
	name        string
	category    Category
	description string
	tags        []string
	patientID   string
}

func (p *Policy) validateMetadata(meta DocumentMetadata, fallbackName string) (*validatedMetadata, error) {
	name := meta.Name
	if strings.TrimSpace(name) == "" {
		name = strings.TrimSuffix(fallbackName, path.Ext(fallbackName))
	}
	name, err := p.validateName(name)
	if err != nil {
		return nil, err
	}
	cat, err := p.resolveCategory(meta.Category)
	if err != nil {
		return nil, err
	}
	tags, err := p.normalizeTags(meta.Tags)
	if err != nil {
		return nil, err
	}
	return &validatedMetadata{
		name:        name,
		category:    cat,
		description: strings.TrimSpace(meta.Description),
		tags:        tags,
		patientID:   strings.TrimSpace(meta.PatientID),
	}, nil
}

// uploadRollback 记录上传过程中已写入的状态，用于补偿
type uploadRollback struct {
	externalID  string
	documentID  string
	ownerID     string
	ledgerBytes int64
}

// Upload 上传文档：校验 → 配额预检 → 写对象 → 写记录 → 记账
func (uc *DocumentUseCase) Upload(ctx context.Context, ownerID string, req UploadDocumentRequest) (*Document, error) {
	if ownerID == "" {
		return nil, validationError("owner id is required")
	}

	info, err := uc.policy.InspectFile(req.FileName, req.ContentType, req.Data)
	if err != nil {
		return nil, err
	}
	meta, err := uc.policy.validateMetadata(req.Metadata, info.Name)
	if err != nil {
		return nil, err
	}

	if err := uc.quota.Precheck(ctx, ownerID, info.SizeBytes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := uc.blobs.Upload(ctx, BlobUpload{
		OwnerID:     ownerID,
		FileName:    info.Name,
		ContentType: info.MimeType,
		Data:        req.Data,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		uc.logger.WithContext(ctx).Error("failed to upload blob",
			zap.String("file_name", info.Name),
			zap.Error(err),
		)
		return nil, WrapError(ErrUploadFailed, err, "failed to upload %s", info.Name)
	}

	return uc.commit(ctx, ownerID, meta, info, ref)
}

// ConfirmUpload 完成预签名直传：校验已上传对象后写记录并记账，任何失败都会删除对象
func (uc *DocumentUseCase) ConfirmUpload(ctx context.Context, ownerID string, req ConfirmUploadRequest) (*Document, error) {
	if !ownsExternalID(ownerID, req.ExternalID) {
		return nil, NewError(ErrNotFound, "upload %s not found", req.ExternalID)
	}

	blobInfo, err := uc.blobs.Stat(ctx, req.ExternalID)
	if err != nil {
		return nil, WrapError(ErrUploadFailed, err, "failed to stat upload %s", req.ExternalID)
	}

	info, err := uc.inspectUploaded(ctx, req, blobInfo)
	if err == nil {
		var meta *validatedMetadata
		meta, err = uc.policy.validateMetadata(req.Metadata, info.Name)
		if err == nil {
			err = uc.quota.Precheck(ctx, ownerID, info.SizeBytes)
		}
		if err == nil {
			ref := &BlobRef{
				ExternalID: req.ExternalID,
				URL:        blobInfo.URL,
				Format:     strings.TrimPrefix(path.Ext(req.ExternalID), "."),
				SizeBytes:  blobInfo.SizeBytes,
			}
			return uc.commit(ctx, ownerID, meta, info, ref)
		}
	}

	uc.compensate(ctx, &uploadRollback{externalID: req.ExternalID, ownerID: ownerID})
	return nil, err
}

// inspectUploaded 按大小与真实内容校验直传对象
func (uc *DocumentUseCase) inspectUploaded(ctx context.Context, req ConfirmUploadRequest, blobInfo *BlobInfo) (FileInfo, error) {
	if err := uc.policy.CheckSize(blobInfo.SizeBytes); err != nil {
		return FileInfo{}, err
	}

	rc, _, err := uc.blobs.Open(ctx, req.ExternalID)
	if err != nil {
		return FileInfo{}, WrapError(ErrUploadFailed, err, "failed to read upload %s", req.ExternalID)
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return FileInfo{}, WrapError(ErrUploadFailed, err, "failed to read upload %s", req.ExternalID)
	}
	detected := normalizeMIME(mt.String())
	if err := uc.policy.CheckMIMEType(detected); err != nil {
		return FileInfo{}, err
	}
	if declared := normalizeMIME(blobInfo.ContentType); declared != "" && declared != "application/octet-stream" && declared != detected {
		return FileInfo{}, validationError("declared type %q does not match content %q", declared, detected)
	}

	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = path.Base(req.ExternalID)
	}
	return FileInfo{
		Name:             path.Base(strings.ReplaceAll(name, "\\", "/")),
		SizeBytes:        blobInfo.SizeBytes,
		MimeType:         detected,
		FileTypeCategory: fileTypeCategoryOf(detected),
	}, nil
}

// PresignUpload 签发直传凭证；配额已满时直接拒绝
func (uc *DocumentUseCase) PresignUpload(ctx context.Context, ownerID, fileName, contentType string) (*PresignedUpload, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, validationError("file name is required")
	}
	if err := uc.policy.CheckMIMEType(contentType); err != nil {
		return nil, err
	}
	if err := uc.quota.Precheck(ctx, ownerID, 1); err != nil {
		return nil, err
	}

	presigned, err := uc.blobs.PresignUpload(ctx, ownerID, fileName, normalizeMIME(contentType))
	if err != nil {
		return nil, WrapError(ErrUploadFailed, err, "failed to presign upload")
	}
	return presigned, nil
}

// commit 写记录并记账；每一步后检查取消，失败时补偿已写入的状态
func (uc *DocumentUseCase) commit(ctx context.Context, ownerID string, meta *validatedMetadata, info FileInfo, ref *BlobRef) (*Document, error) {
	rb := &uploadRollback{externalID: ref.ExternalID, ownerID: ownerID}
	fail := func(err error) (*Document, error) {
		uc.compensate(ctx, rb)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	doc := &Document{
		OwnerID:       ownerID,
		Name:          meta.name,
		Category:      meta.category.Key,
		CategoryLabel: meta.category.Label,
		Description:   meta.description,
		Tags:          meta.tags,
		PatientID:     meta.patientID,
		FileInfo:      info,
		BlobRef:       *ref,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		if errors.Is(err, ErrConflict) {
			// 对象已被其他记录引用
			rb.externalID = ""
		}
		uc.logger.WithContext(ctx).Error("failed to save document record",
			zap.String("external_id", ref.ExternalID),
			zap.Error(err),
		)
		return fail(WrapError(ErrMetadataSaveFailed, err, "failed to save document metadata"))
	}
	rb.documentID = doc.ID

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	res, err := uc.quota.Add(ctx, ownerID, ref.SizeBytes)
	if err != nil {
		return fail(WrapError(ErrMetadataSaveFailed, err, "failed to update storage ledger"))
	}
	if !res.Success {
		uc.logger.WithContext(ctx).Warn("storage quota exceeded, rolling back upload",
			zap.String("document_id", doc.ID),
			zap.Int64("size_bytes", ref.SizeBytes),
			zap.Int64("current_total", res.NewTotal),
		)
		return fail(NewError(ErrQuotaExceeded, "upload of %d bytes exceeds storage quota", ref.SizeBytes))
	}
	rb.ledgerBytes = ref.SizeBytes

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	uc.logger.WithContext(ctx).Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("external_id", ref.ExternalID),
		zap.Int64("size_bytes", ref.SizeBytes),
	)
	return doc, nil
}

// compensate 在独立 context 中撤销已写入的状态，不受请求取消影响
func (uc *DocumentUseCase) compensate(ctx context.Context, rb *uploadRollback) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.policy.CompensationTimeout)
	defer cancel()

	if rb.ledgerBytes > 0 {
		if err := uc.quota.Remove(cctx, rb.ownerID, rb.ledgerBytes); err != nil {
			uc.logger.WithContext(ctx).Error("compensation: failed to release ledger bytes",
				zap.Int64("bytes", rb.ledgerBytes), zap.Error(err))
		}
	}
	if rb.documentID != "" {
		if err := uc.repo.Delete(cctx, rb.documentID); err != nil {
			uc.logger.WithContext(ctx).Error("compensation: failed to delete document record",
				zap.String("document_id", rb.documentID), zap.Error(err))
		}
	}
	if rb.externalID != "" {
		if err := uc.blobs.Delete(cctx, rb.externalID); err != nil {
			uc.logger.WithContext(ctx).Error("compensation: failed to delete blob",
				zap.String("external_id", rb.externalID), zap.Error(err))
		}
	}
}

// ownsExternalID 对象 key 必须位于所有者前缀下，且不能指向缩略图
func ownsExternalID(ownerID, externalID string) bool {
	if ownerID == "" || strings.Contains(externalID, "..") {
		return false
	}
	rest, ok := strings.CutPrefix(externalID, ownerID+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}

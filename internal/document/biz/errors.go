package biz

import (
	"errors"
	"fmt"

	apperrors "github.com/lk2023060901/medora-backend/internal/pkg/errors"
)

// 文档生命周期相关错误
var (
	ErrValidationFailed   = errors.New("validation failed")
	ErrUploadFailed       = errors.New("blob upload failed")
	ErrMetadataSaveFailed = errors.New("document metadata save failed")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrNotFound           = errors.New("document not found")
	ErrConflict           = errors.New("document version conflict")
)

// 分享相关错误
var (
	ErrExpired           = errors.New("share link expired")
	ErrPasswordRequired  = errors.New("share password required")
	ErrShareForbidden    = errors.New("share access forbidden")
	ErrPasswordThrottled = errors.New("too many share password attempts")
)

var errorCodes = map[error]int{
	ErrValidationFailed:   apperrors.ErrDocValidationFailed,
	ErrUploadFailed:       apperrors.ErrDocUploadFailed,
	ErrMetadataSaveFailed: apperrors.ErrDocMetadataSaveFailed,
	ErrQuotaExceeded:      apperrors.ErrDocQuotaExceeded,
	ErrNotFound:           apperrors.ErrDocNotFound,
	ErrConflict:           apperrors.ErrDocConflict,
	ErrExpired:            apperrors.ErrShareExpired,
	ErrPasswordRequired:   apperrors.ErrSharePasswordRequired,
	ErrShareForbidden:     apperrors.ErrShareForbidden,
	ErrPasswordThrottled:  apperrors.ErrSharePasswordThrottled,
}

// NewError 将哨兵错误包装为带错误码的 AppError
func NewError(sentinel error, format string, args ...interface{}) error {
	code, ok := errorCodes[sentinel]
	if !ok {
		code = apperrors.ErrInternalServer
	}
	return apperrors.Wrapf(sentinel, code, format, args...)
}

// WrapError 将底层错误归入给定哨兵；已归类的错误原样返回
func WrapError(sentinel error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}
	code, ok := errorCodes[sentinel]
	if !ok {
		code = apperrors.ErrInternalServer
	}
	return &apperrors.AppError{
		Code:    code,
		Message: apperrors.GetMessage(code),
		Err:     fmt.Errorf("%w: %w", sentinel, err),
		Details: fmt.Sprintf(format, args...),
	}
}

func isClassified(err error) bool {
	for sentinel := range errorCodes {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// validationError 参数校验失败
func validationError(format string, args ...interface{}) error {
	return NewError(ErrValidationFailed, format, args...)
}

func notFoundError(id string) error {
	return NewError(ErrNotFound, "document %s not found", id)
}

package biz

import (
	"path"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// Category 文档分类
type Category struct {
	Key   string `mapstructure:"key"`
	Label string `mapstructure:"label"`
}

// Policy 上传校验与生命周期参数
type Policy struct {
	MaxUploadBytes      int64
	AllowedMIMETypes    []string
	Categories          []Category
	DefaultCategory     string
	MaxNameLength       int
	MaxTags             int
	MaxTagLength        int
	MaxBulkItems        int
	RecentWindow        time.Duration
	CompensationTimeout time.Duration
}

// DefaultPolicy 默认策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxUploadBytes: 5 << 20,
		AllowedMIMETypes: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/webp",
			"application/pdf",
		},
		Categories: []Category{
			{Key: "lab_results", Label: "Lab Results"},
			{Key: "prescriptions", Label: "Prescriptions"},
			{Key: "imaging", Label: "Imaging"},
			{Key: "visit_notes", Label: "Visit Notes"},
			{Key: "vaccinations", Label: "Vaccinations"},
			{Key: "insurance", Label: "Insurance"},
			{Key: "other", Label: "Other"},
		},
		DefaultCategory:     "other",
		MaxNameLength:       255,
		MaxTags:             20,
		MaxTagLength:        50,
		MaxBulkItems:        100,
		RecentWindow:        7 * 24 * time.Hour,
		CompensationTimeout: 10 * time.Second,
	}
}

func (p *Policy) validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required")
	}
	if utf8.RuneCountInString(name) > p.MaxNameLength {
		return "", validationError("name exceeds %d characters", p.MaxNameLength)
	}
	return name, nil
}

func (p *Policy) resolveCategory(key string) (Category, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = p.DefaultCategory
	}
	for _, c := range p.Categories {
		if c.Key == key {
			return c, nil
		}
	}
	return Category{}, validationError("unknown category %q", key)
}

// normalizeTags 去空白、去重并校验数量
func (p *Policy) normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		if utf8.RuneCountInString(t) > p.MaxTagLength {
			return nil, validationError("tag %q exceeds %d characters", t, p.MaxTagLength)
		}
		out = append(out, t)
	}
	if len(out) > p.MaxTags {
		return nil, validationError("at most %d tags are allowed", p.MaxTags)
	}
	return out, nil
}

// CheckSize 校验文件大小
func (p *Policy) CheckSize(size int64) error {
	if size <= 0 {
		return validationError("file is empty")
	}
	if size > p.MaxUploadBytes {
		return validationError("file size %d exceeds limit %d", size, p.MaxUploadBytes)
	}
	return nil
}

// CheckMIMEType 校验 MIME 类型是否在白名单内
func (p *Policy) CheckMIMEType(mimeType string) error {
	if !slices.Contains(p.AllowedMIMETypes, normalizeMIME(mimeType)) {
		return validationError("file type %q is not allowed", mimeType)
	}
	return nil
}

// InspectFile 嗅探文件内容并生成 FileInfo；声明类型与实际内容不符时拒绝
func (p *Policy) InspectFile(fileName, declaredType string, data []byte) (FileInfo, error) {
	if err := p.CheckSize(int64(len(data))); err != nil {
		return FileInfo{}, err
	}

	mt := mimetype.Detect(data)
	detected := normalizeMIME(mt.String())
	if err := p.CheckMIMEType(detected); err != nil {
		return FileInfo{}, err
	}
	if declared := normalizeMIME(declaredType); declared != "" && declared != "application/octet-stream" && declared != detected {
		return FileInfo{}, validationError("declared type %q does not match content %q", declared, detected)
	}

	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document" + mt.Extension()
	}

	return FileInfo{
		Name:             name,
		SizeBytes:        int64(len(data)),
		MimeType:         detected,
		FileTypeCategory: fileTypeCategoryOf(detected),
	}, nil
}

func fileTypeCategoryOf(mimeType string) FileTypeCategory {
	if strings.HasPrefix(mimeType, "image/") {
		return FileTypeImage
	}
	return FileTypePDF
}

// normalizeMIME 去掉参数部分并转小写，例如 "image/png; charset=binary"
func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}

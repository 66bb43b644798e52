package minio

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,61}[a-z0-9]$`)

// ValidateBucketName 按 S3 命名规则校验桶名
func ValidateBucketName(bucketName string) error {
	if len(bucketName) < 3 || len(bucketName) > 63 {
		return fmt.Errorf("%w: must be between 3 and 63 characters long", ErrInvalidBucketName)
	}
	if !bucketNameRegex.MatchString(bucketName) {
		return fmt.Errorf("%w: only lowercase letters, numbers and hyphens are allowed", ErrInvalidBucketName)
	}
	if strings.Contains(bucketName, "--") {
		return fmt.Errorf("%w: cannot contain consecutive hyphens", ErrInvalidBucketName)
	}
	if net.ParseIP(bucketName) != nil {
		return fmt.Errorf("%w: cannot be formatted as an IP address", ErrInvalidBucketName)
	}
	return nil
}

// ValidateObjectName 校验对象名
func ValidateObjectName(objectName string) error {
	switch {
	case objectName == "":
		return fmt.Errorf("%w: cannot be empty", ErrInvalidObjectName)
	case len(objectName) > 1024:
		return fmt.Errorf("%w: cannot exceed 1024 characters", ErrInvalidObjectName)
	case strings.Contains(objectName, "\x00"):
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidObjectName)
	case strings.HasPrefix(objectName, "/"), strings.Contains(objectName, ".."):
		return fmt.Errorf("%w: must be a relative key without parent references", ErrInvalidObjectName)
	}
	return nil
}

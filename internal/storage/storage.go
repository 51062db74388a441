// Package storage keeps uploaded KYC documents on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	gslug "github.com/gosimple/slug"
)

var ErrNotFound = errors.New("object not found")

// Store is a flat object store addressed by slash separated keys
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey builds the key for a client document:
// kyc_docs/<client-slug>/YYYY/MM/DD/<uuid8>-<filename>
func DocumentKey(clientName, filename string, uploaded time.Time) string {
	uploaded = uploaded.UTC()
	return path.Join(
		"kyc_docs",
		slug(clientName),
		fmt.Sprintf("%04d/%02d/%02d", uploaded.Year(), uploaded.Month(), uploaded.Day()),
		fmt.Sprintf("%s-%s", uuid.New().String()[:8], SanitizeFilename(filename)),
	)
}

func slug(name string) string {
	s := gslug.Make(name)
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-_")
	}
	if s == "" {
		return "client"
	}
	return s
}

// SanitizeFilename removes or replaces characters that could be problematic in keys
func SanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "." || filename == "/" {
		filename = ""
	}

	result := make([]byte, 0, len(filename))
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if isAllowedFilenameChar(c) {
			result = append(result, c)
		} else {
			result = append(result, '_')
		}
	}

	if len(result) == 0 {
		return "file"
	}
	if len(result) > 100 {
		// Truncate but preserve extension if present
		ext := filepath.Ext(string(result))
		if len(ext) > 0 && len(ext) < 10 {
			result = append(result[:100-len(ext)], ext...)
		} else {
			result = result[:100]
		}
	}
	return string(result)
}

func isAllowedFilenameChar(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.'
}

// cleanKey rejects keys that would escape the store root
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)[1:]
	if k == "" || k != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k, nil
}

// Package backend performs the analyze, generate-test, run-test and
// generate-patch work for the pipeline. Two implementations satisfy Adapter:
// Sample returns fixtures after a simulated delay, Network calls a remote
// service and normalizes its responses.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/lucasnoah/patchpilot/internal/result"
)

// Adapter is the capability set the pipeline needs from a backend. Each call
// is made at most once per stage attempt; adapters never retry internally.
type Adapter interface {
	AnalyzeVideo(ctx context.Context, video *Video) (*result.Analysis, error)
	GenerateTest(ctx context.Context, analysis *result.Analysis, targetURL string) (*result.GeneratedTest, error)
	RunTest(ctx context.Context, test *result.GeneratedTest) (*result.RunResult, error)
	GeneratePatch(ctx context.Context, in PatchInput) (*result.PatchResult, error)
}

// PatchInput is everything GeneratePatch needs.
type PatchInput struct {
	Analysis *result.Analysis
	Run      *result.RunResult
}

// Video is an uploaded screen recording.
type Video struct {
	Name        string `json:"filename"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`

	open func() (io.ReadCloser, error)
}

// OpenVideo describes the file at path. The content is read lazily when an
// adapter uploads it.
func OpenVideo(path string) (*Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("video %s is a directory", path)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Video{
		Name:        filepath.Base(path),
		ContentType: ct,
		Size:        info.Size(),
		open:        func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// NewVideo wraps in-memory content as a Video.
func NewVideo(name, contentType string, data []byte) *Video {
	buf := append([]byte(nil), data...)
	return &Video{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(buf)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		},
	}
}

// Open returns the video content.
func (v *Video) Open() (io.ReadCloser, error) {
	if v == nil || v.open == nil {
		return nil, fmt.Errorf("video has no content")
	}
	return v.open()
}

// summary is what a call record keeps instead of the raw upload.
func (v *Video) summary() map[string]any {
	if v == nil {
		return nil
	}
	return map[string]any{
		"filename": v.Name,
		"size":     v.Size,
		"type":     v.ContentType,
	}
}

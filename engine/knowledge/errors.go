package knowledge

import (
	"errors"
	"fmt"
)

var (
	ErrChunking             = errors.New("knowledge: chunking failed")
	ErrEmbeddingUnavailable = errors.New("knowledge: embedding unavailable")
	ErrVectorStore          = errors.New("knowledge: vector store failure")
	ErrUnsupportedFormat    = errors.New("knowledge: unsupported file format")
	ErrInvalidTenant        = errors.New("knowledge: invalid tenant")
	ErrFileNotFound         = errors.New("knowledge: material file not found")
)

// ChunkingError reports invalid chunking input.
type ChunkingError struct {
	Reason string
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrChunking.Error(), e.Reason)
}

func (e *ChunkingError) Unwrap() error {
	return ErrChunking
}

// UnsupportedFormatError names the file whose extension has no extractor.
type UnsupportedFormatError struct {
	File      string
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: %q (extension %q)", ErrUnsupportedFormat.Error(), e.File, e.Extension)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type BlockType string

const (
	BlockTypeText     BlockType = "text"
	BlockTypeImageURL BlockType = "image_url"
)

type ImageDetail string

const (
	ImageDetailAuto ImageDetail = "auto"
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
)

// ContentBlock is one entry of a block-form message content.
// Exactly one of Text / ImageURL is populated, selected by Type.
type ContentBlock struct {
	Type     BlockType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string      `json:"url"`
	Detail ImageDetail `json:"detail,omitempty"`
	// Width/Height are optional dimension hints used for token estimation.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// URLPolicy controls which image URL schemes a content block may carry.
// The default policy accepts https only.
type URLPolicy struct {
	AllowHTTP       bool
	AllowDataURLs   bool
	MaxDataURLBytes int
}

const DefaultMaxDataURLBytes = 20 * 1024 * 1024

func DefaultURLPolicy() URLPolicy {
	return URLPolicy{MaxDataURLBytes: DefaultMaxDataURLBytes}
}

type ContentError struct {
	Reason string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("invalid message content: %s", e.Reason)
}

func newContentError(format string, args ...interface{}) *ContentError {
	return &ContentError{Reason: fmt.Sprintf(format, args...)}
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func ImageBlock(url string, detail ImageDetail) ContentBlock {
	if detail == "" {
		detail = ImageDetailAuto
	}
	return ContentBlock{Type: BlockTypeImageURL, ImageURL: &ImageURL{URL: url, Detail: detail}}
}

// Validate checks a block against the structural invariants and the URL policy.
func (b ContentBlock) Validate(policy URLPolicy) error {
	switch b.Type {
	case BlockTypeText:
		return nil
	case BlockTypeImageURL:
		if b.ImageURL == nil || b.ImageURL.URL == "" {
			return newContentError("image_url block without url")
		}
		return validateImageURL(b.ImageURL, policy)
	default:
		return newContentError("unknown block type %q", string(b.Type))
	}
}

func validateImageURL(img *ImageURL, policy URLPolicy) error {
	switch img.Detail {
	case "", ImageDetailAuto, ImageDetailLow, ImageDetailHigh:
	default:
		return newContentError("invalid image detail %q", string(img.Detail))
	}

	url := img.URL
	switch {
	case strings.HasPrefix(url, "https://"):
		return nil
	case strings.HasPrefix(url, "http://"):
		if !policy.AllowHTTP {
			return newContentError("http image URLs are not allowed")
		}
		return nil
	case strings.HasPrefix(url, "data:"):
		if !policy.AllowDataURLs {
			return newContentError("data: image URLs are not allowed")
		}
		maxBytes := policy.MaxDataURLBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxDataURLBytes
		}
		if payload := dataURLPayloadSize(url); payload > maxBytes {
			return newContentError("data: URL payload %d bytes exceeds limit %d", payload, maxBytes)
		}
		return nil
	default:
		return newContentError("unsupported image URL scheme in %q", truncateForError(url))
	}
}

func dataURLPayloadSize(url string) int {
	idx := strings.IndexByte(url, ',')
	if idx < 0 {
		return len(url)
	}
	payload := url[idx+1:]
	if strings.Contains(url[:idx], ";base64") {
		return base64.StdEncoding.DecodedLen(len(payload))
	}
	return len(payload)
}

func truncateForError(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package protocol

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the fallback ratio when no encoding is available.
	charsPerToken = 4

	imageBaseTokens     = 85
	imageTokensPerTile  = 170
	imageTileSize       = 512
	imageHighFallback   = 765
	imageAutoFallback   = 425
	perMessageOverhead  = 4
	perToolCallOverhead = 10
)

// Estimator approximates token counts for budget pre-checks. Counts are
// explicitly approximate: tiktoken when the model's encoding is known,
// a chars/4 heuristic otherwise.
type Estimator struct {
	model string

	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
	resolved bool
}

func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) countText(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.tokenizer(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func (e *Estimator) tokenizer() *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return e.encoding
	}
	e.resolved = true
	if e.model == "" {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(e.model)
	if err != nil {
		// Unknown model, fall back to the char ratio permanently.
		return nil
	}
	e.encoding = enc
	return e.encoding
}

// EstimateMessage returns the approximate token cost of one message,
// including a fixed per-message framing overhead.
func (e *Estimator) EstimateMessage(m Message) int {
	total := perMessageOverhead
	if !m.IsBlockForm() {
		total += e.countText(m.Text)
	} else {
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockTypeText:
				total += e.countText(b.Text)
			case BlockTypeImageURL:
				total += estimateImage(b.ImageURL)
			}
		}
	}
	for _, tc := range m.ToolCalls {
		total += perToolCallOverhead
		total += e.countText(tc.Name)
		if tc.RawArgs != "" {
			total += e.countText(tc.RawArgs)
		} else {
			total += e.countText(CanonicalArgs(tc.Args))
		}
	}
	return total
}

// EstimateMessages sums EstimateMessage over a slice.
func (e *Estimator) EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.EstimateMessage(m)
	}
	return total
}

// EstimateText exposes the raw text estimator for callers sizing
// non-message payloads (format contracts, retention hints).
func (e *Estimator) EstimateText(text string) int {
	return e.countText(text)
}

func estimateImage(img *ImageURL) int {
	if img == nil {
		return 0
	}
	switch img.Detail {
	case ImageDetailLow:
		return imageBaseTokens
	case ImageDetailHigh, ImageDetailAuto, "":
		if img.Width > 0 && img.Height > 0 {
			tilesW := int(math.Ceil(float64(img.Width) / imageTileSize))
			tilesH := int(math.Ceil(float64(img.Height) / imageTileSize))
			return imageBaseTokens + imageTokensPerTile*tilesW*tilesH
		}
		if img.Detail == ImageDetailHigh {
			return imageHighFallback
		}
		return imageAutoFallback
	default:
		return imageAutoFallback
	}
}

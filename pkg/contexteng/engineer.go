// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package contexteng

import (
	"log/slog"

	"github.com/praxislang/praxis/pkg/protocol"
)

type Strategy string

const (
	StrategyTruncation    Strategy = "truncation"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyLevel         Strategy = "level"
)

type MultimodalMode string

const (
	// MultimodalAtomic drops a whole multimodal message when it must shrink.
	MultimodalAtomic MultimodalMode = "atomic"
	// MultimodalTextOnly degrades multimodal messages to their text.
	MultimodalTextOnly MultimodalMode = "text_only"
	// MultimodalLatestImage keeps the most recent KeepImages image blocks
	// and degrades older ones to text.
	MultimodalLatestImage MultimodalMode = "latest_image"
)

type Config struct {
	Strategy       Strategy       `yaml:"strategy"`
	MultimodalMode MultimodalMode `yaml:"multimodal_mode"`
	// TokenBudget caps the assembled prompt. Zero means unbounded.
	TokenBudget int `yaml:"token_budget"`
	// WindowSize is the per-bucket message cap for sliding_window.
	WindowSize int `yaml:"window_size"`
	// KeepImages is K for latest_image mode.
	KeepImages int `yaml:"keep_images"`
}

func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyTruncation
	}
	if c.MultimodalMode == "" {
		c.MultimodalMode = MultimodalAtomic
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.KeepImages <= 0 {
		c.KeepImages = 1
	}
}

// minShortenLength is the text size below which shortening gives up and the
// message is dropped instead.
const minShortenLength = 64

// compressible buckets, in eviction priority order. system is never touched.
var compressionOrder = []BucketName{BucketHistory, BucketScratchpad, BucketPlaybook, BucketControl}

// Engineer assembles the flat prompt from the bucketed store under a token
// budget, compressing per the configured strategy. Pinned messages are
// inviolate under every strategy.
type Engineer struct {
	store     *Store
	estimator *protocol.Estimator
	cfg       Config
}

func NewEngineer(store *Store, estimator *protocol.Estimator, cfg Config) *Engineer {
	cfg.SetDefaults()
	return &Engineer{store: store, estimator: estimator, cfg: cfg}
}

func (e *Engineer) Store() *Store  { return e.store }
func (e *Engineer) Config() Config { return e.cfg }

// Assemble produces the message list for one LLM request. The store itself
// is not modified; compression works on the assembled copy.
func (e *Engineer) Assemble() []protocol.Message {
	working := e.snapshotBuckets()

	if e.cfg.Strategy == StrategySlidingWindow {
		e.applyWindow(working)
	}

	if e.cfg.TokenBudget > 0 {
		switch e.cfg.Strategy {
		case StrategyLevel:
			e.compressLevels(working)
		default:
			e.compressUntilFits(working, compressionOrder)
		}
	}

	var out []protocol.Message
	for _, bucket := range assemblyOrder {
		out = append(out, working[bucket]...)
	}
	return out
}

func (e *Engineer) snapshotBuckets() map[BucketName][]protocol.Message {
	working := make(map[BucketName][]protocol.Message, len(assemblyOrder))
	for _, bucket := range assemblyOrder {
		working[bucket] = e.store.Messages(bucket)
	}
	return working
}

func (e *Engineer) totalTokens(working map[BucketName][]protocol.Message) int {
	total := 0
	for _, bucket := range assemblyOrder {
		total += e.estimator.EstimateMessages(working[bucket])
	}
	return total
}

// applyWindow keeps the most recent WindowSize messages per bucket (system
// excluded); pinned messages are always shielded.
func (e *Engineer) applyWindow(working map[BucketName][]protocol.Message) {
	for _, bucket := range compressionOrder {
		msgs := working[bucket]
		if len(msgs) <= e.cfg.WindowSize {
			continue
		}
		cut := len(msgs) - e.cfg.WindowSize
		kept := make([]protocol.Message, 0, e.cfg.WindowSize)
		for i, m := range msgs {
			if i < cut && !m.Pinned() {
				continue
			}
			kept = append(kept, m)
		}
		working[bucket] = kept
	}
}

// compressLevels compresses history to exhaustion before touching
// scratchpad; system is never compressed.
func (e *Engineer) compressLevels(working map[BucketName][]protocol.Message) {
	for _, bucket := range []BucketName{BucketHistory, BucketScratchpad, BucketPlaybook, BucketControl} {
		if e.totalTokens(working) <= e.cfg.TokenBudget {
			return
		}
		e.compressUntilFits(working, []BucketName{bucket})
	}
}

func (e *Engineer) compressUntilFits(working map[BucketName][]protocol.Message, order []BucketName) {
	for e.totalTokens(working) > e.cfg.TokenBudget {
		if !e.shrinkOldest(working, order) {
			slog.Debug("Context still over budget after compression",
				"budget", e.cfg.TokenBudget, "tokens", e.totalTokens(working))
			return
		}
	}
}

// shrinkOldest degrades or drops the oldest unpinned message across the
// given buckets. Returns false when nothing compressible remains.
func (e *Engineer) shrinkOldest(working map[BucketName][]protocol.Message, order []BucketName) bool {
	for _, bucket := range order {
		msgs := working[bucket]
		for i := range msgs {
			if msgs[i].Pinned() {
				continue
			}
			if shrunk, ok := e.shrinkMessage(msgs[i]); ok {
				msgs[i] = shrunk
				working[bucket] = msgs
			} else {
				working[bucket] = append(msgs[:i:i], msgs[i+1:]...)
			}
			return true
		}
	}
	return false
}

// shrinkMessage shortens a message in place if possible; (zero, false)
// means the message should be dropped instead. Image blocks are never
// truncated: multimodal handling follows the configured mode.
func (e *Engineer) shrinkMessage(m protocol.Message) (protocol.Message, bool) {
	if m.IsBlockForm() && hasImage(m) {
		switch e.cfg.MultimodalMode {
		case MultimodalTextOnly:
			text := m.ExtractText()
			if text == "" {
				return protocol.Message{}, false
			}
			out := m.Clone()
			out.Blocks = nil
			out.Text = text
			return out, true
		case MultimodalLatestImage:
			out, changed := dropOlderImages(m, e.cfg.KeepImages)
			if changed {
				return out, true
			}
			return protocol.Message{}, false
		default: // atomic
			return protocol.Message{}, false
		}
	}

	text := m.ExtractText()
	if len(text) < minShortenLength {
		return protocol.Message{}, false
	}
	out := m.Clone()
	out.Blocks = nil
	out.Text = text[:len(text)/2] + "\n[...truncated]"
	return out, true
}

func hasImage(m protocol.Message) bool {
	for _, b := range m.Blocks {
		if b.Type == protocol.BlockTypeImageURL {
			return true
		}
	}
	return false
}

func dropOlderImages(m protocol.Message, keep int) (protocol.Message, bool) {
	imageCount := 0
	for _, b := range m.Blocks {
		if b.Type == protocol.BlockTypeImageURL {
			imageCount++
		}
	}
	if imageCount <= keep {
		return m, false
	}

	out := m.Clone()
	drop := imageCount - keep
	kept := out.Blocks[:0]
	for _, b := range out.Blocks {
		if b.Type == protocol.BlockTypeImageURL && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, b)
	}
	out.Blocks = kept
	return out, true
}

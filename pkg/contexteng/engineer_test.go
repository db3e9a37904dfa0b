package contexteng

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/protocol"
)

func addText(t *testing.T, s *Store, bucket BucketName, role protocol.Role, text string) {
	t.Helper()
	require.NoError(t, s.Add(bucket, protocol.NewTextMessage(role, text)))
}

func addPinned(t *testing.T, s *Store, bucket BucketName, text string) {
	t.Helper()
	m := protocol.NewTextMessage(protocol.RoleTool, text)
	m.ToolCallID = "call_pin"
	m.SetMetadata(protocol.MetaPinned, true)
	require.NoError(t, s.Add(bucket, m))
}

func TestStoreBucketOrder(t *testing.T) {
	s := NewStore()
	addText(t, s, BucketControl, protocol.RoleUser, "control")
	addText(t, s, BucketSystem, protocol.RoleSystem, "system")
	addText(t, s, BucketScratchpad, protocol.RoleAssistant, "scratch")
	addText(t, s, BucketHistory, protocol.RoleUser, "history")
	addText(t, s, BucketPlaybook, protocol.RoleSystem, "playbook")

	all := s.All()
	require.Len(t, all, 5)
	texts := make([]string, len(all))
	for i, m := range all {
		texts[i] = m.Text
	}
	assert.Equal(t, []string{"system", "playbook", "history", "scratch", "control"}, texts)
}

func TestStoreRejectsInvalidMessage(t *testing.T) {
	s := NewStore()
	err := s.Add(BucketHistory, protocol.Message{Role: "robot", Text: "x"})
	assert.Error(t, err)
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := NewStore()
	addText(t, s, BucketHistory, protocol.RoleUser, "one")
	snap := s.Snapshot()

	addText(t, s, BucketHistory, protocol.RoleUser, "two")
	s.Restore(snap)

	assert.Equal(t, 1, s.Len(BucketHistory))
}

func TestAssembleNoBudgetKeepsEverything(t *testing.T) {
	s := NewStore()
	addText(t, s, BucketSystem, protocol.RoleSystem, "sys")
	addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("h", 1000))

	e := NewEngineer(s, protocol.NewEstimator(""), Config{})
	assert.Len(t, e.Assemble(), 2)
}

func TestTruncationDropsOldestHistoryFirst(t *testing.T) {
	s := NewStore()
	addText(t, s, BucketSystem, protocol.RoleSystem, strings.Repeat("s", 400))
	addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("a", 4000))
	addText(t, s, BucketHistory, protocol.RoleUser, "recent")
	addText(t, s, BucketScratchpad, protocol.RoleAssistant, "note")

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:    StrategyTruncation,
		TokenBudget: 400,
	})
	out := e.Assemble()

	// System survives untouched; the big history message is shortened or
	// dropped before anything else.
	assert.Equal(t, strings.Repeat("s", 400), out[0].Text)
	for _, m := range out[1:] {
		assert.NotEqual(t, strings.Repeat("a", 4000), m.Text)
	}
	assert.LessOrEqual(t, protocol.NewEstimator("").EstimateMessages(out), 400)
}

func TestPinnedMessagesAreInviolate(t *testing.T) {
	pinnedText := PinMarkerTestHelper()
	s := NewStore()
	addPinned(t, s, BucketHistory, pinnedText)
	for i := 0; i < 10; i++ {
		addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("x", 500))
	}

	for _, strategy := range []Strategy{StrategyTruncation, StrategySlidingWindow, StrategyLevel} {
		e := NewEngineer(s, protocol.NewEstimator(""), Config{
			Strategy:    strategy,
			TokenBudget: 100,
			WindowSize:  2,
		})
		out := e.Assemble()

		found := false
		for _, m := range out {
			if m.Text == pinnedText {
				found = true
			}
		}
		assert.True(t, found, "strategy %s removed a pinned message", strategy)
	}
}

// PinMarkerTestHelper returns a recognizable pinned payload.
func PinMarkerTestHelper() string {
	return "[PINNED] critical result"
}

func TestSlidingWindowKeepsRecent(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("m", 10+i))
	}

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:   StrategySlidingWindow,
		WindowSize: 3,
	})
	out := e.Assemble()
	require.Len(t, out, 3)
	assert.Equal(t, strings.Repeat("m", 19), out[2].Text)
}

func TestLevelCompressesHistoryBeforeScratchpad(t *testing.T) {
	s := NewStore()
	addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("h", 4000))
	addText(t, s, BucketScratchpad, protocol.RoleAssistant, strings.Repeat("p", 200))

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:    StrategyLevel,
		TokenBudget: 120,
	})
	out := e.Assemble()

	// Scratchpad content survives while history absorbed the compression.
	foundScratch := false
	for _, m := range out {
		if m.Text == strings.Repeat("p", 200) {
			foundScratch = true
		}
		assert.NotEqual(t, strings.Repeat("h", 4000), m.Text)
	}
	assert.True(t, foundScratch)
}

func TestMultimodalAtomicDropsWholeMessage(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(BucketHistory, protocol.NewBlockMessage(protocol.RoleUser,
		protocol.TextBlock(strings.Repeat("t", 2000)),
		protocol.ImageBlock("https://e.com/a.png", protocol.ImageDetailHigh))))

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:       StrategyTruncation,
		TokenBudget:    50,
		MultimodalMode: MultimodalAtomic,
	})
	assert.Empty(t, e.Assemble())
}

func TestMultimodalTextOnlyDegradesToText(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(BucketHistory, protocol.NewBlockMessage(protocol.RoleUser,
		protocol.TextBlock("caption"),
		protocol.ImageBlock("https://e.com/a.png", protocol.ImageDetailHigh))))
	addText(t, s, BucketHistory, protocol.RoleUser, strings.Repeat("f", 800))

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:       StrategyTruncation,
		TokenBudget:    150,
		MultimodalMode: MultimodalTextOnly,
	})
	out := e.Assemble()

	for _, m := range out {
		assert.False(t, m.IsBlockForm(), "image blocks should be degraded to text")
	}
}

func TestMultimodalLatestImageKeepsNewestImages(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(BucketHistory, protocol.NewBlockMessage(protocol.RoleUser,
		protocol.ImageBlock("https://e.com/old.png", protocol.ImageDetailHigh),
		protocol.ImageBlock("https://e.com/mid.png", protocol.ImageDetailHigh),
		protocol.ImageBlock("https://e.com/new.png", protocol.ImageDetailHigh),
		protocol.TextBlock("three screenshots"))))

	e := NewEngineer(s, protocol.NewEstimator(""), Config{
		Strategy:       StrategyTruncation,
		TokenBudget:    500,
		MultimodalMode: MultimodalLatestImage,
		KeepImages:     1,
	})
	out := e.Assemble()
	require.Len(t, out, 1)

	var urls []string
	for _, b := range out[0].Blocks {
		if b.Type == protocol.BlockTypeImageURL {
			urls = append(urls, b.ImageURL.URL)
		}
	}
	assert.Equal(t, []string{"https://e.com/new.png"}, urls)
	assert.Equal(t, "three screenshots", out[0].ExtractText())
}

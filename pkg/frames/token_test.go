package frames

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pausedFrame() *ExecutionFrame {
	f := testFrame()
	f.Status = StatusPaused
	f.ContextSnapshotID = "snap-1"
	f.Version = 3
	return f
}

func TestTokenIssueAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)
	assert.Equal(t, f.FrameID, handle.FrameID)
	assert.Equal(t, "snap-1", handle.SnapshotID)

	frameID, err := issuer.Parse(handle.Token)
	require.NoError(t, err)
	assert.Equal(t, f.FrameID, frameID)

	snapshotID, err := issuer.Validate(handle.Token, f)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", snapshotID)
}

func TestTokenSingleUse(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)

	_, err = issuer.Validate(handle.Token, f)
	require.NoError(t, err)
	_, err = issuer.Validate(handle.Token, f)
	assert.ErrorIs(t, err, ErrTokenReplayed)
}

func TestTokenRejectsStaleVersion(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)

	f.Version++
	_, err = issuer.Validate(handle.Token, f)
	assert.ErrorIs(t, err, ErrStaleToken)
}

func TestTokenRejectsNonResumableStatus(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)

	f.Status = StatusCompleted
	_, err = issuer.Validate(handle.Token, f)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestTokenRejectsWrongFrame(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)

	handle, err := issuer.Issue(pausedFrame())
	require.NoError(t, err)

	other := pausedFrame()
	_, err = issuer.Validate(handle.Token, other)
	assert.Error(t, err)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)

	forger, err := NewTokenIssuer("other-secret", time.Hour)
	require.NoError(t, err)
	_, err = forger.Validate(handle.Token, f)
	assert.Error(t, err)
}

func TestTokenExpires(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", -time.Hour)
	require.NoError(t, err)
	f := pausedFrame()

	handle, err := issuer.Issue(f)
	require.NoError(t, err)

	_, err = issuer.Validate(handle.Token, f)
	assert.Error(t, err)
}

func TestTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("", time.Hour)
	assert.Error(t, err)
}

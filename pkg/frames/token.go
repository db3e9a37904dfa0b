// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenScope = "resume"

var (
	ErrTokenReplayed = errors.New("resume token already used")
	ErrNotResumable  = errors.New("frame is not resumable")
	ErrStaleToken    = errors.New("resume token bound to a stale frame version")
)

// ResumeHandle is what callers hold to resume a paused or interrupted
// frame. The token is a signed JWT bound to the frame, its snapshot and
// its exact version.
type ResumeHandle struct {
	FrameID    string `json:"frame_id"`
	SnapshotID string `json:"snapshot_id"`
	Token      string `json:"resume_token"`
}

// TokenIssuer signs and validates resume tokens with a shared HS256
// secret. Tokens are single use: the jti is burned on first successful
// validation.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration

	mu   sync.Mutex
	used map[string]struct{}
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, used: map[string]struct{}{}}, nil
}

func (i *TokenIssuer) Issue(f *ExecutionFrame) (*ResumeHandle, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(f.FrameID).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(i.ttl)).
		Claim("snapshot_id", f.ContextSnapshotID).
		Claim("frame_version", f.Version).
		Claim("scope", tokenScope).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build resume token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign resume token: %w", err)
	}
	return &ResumeHandle{
		FrameID:    f.FrameID,
		SnapshotID: f.ContextSnapshotID,
		Token:      string(signed),
	}, nil
}

// Parse verifies the signature and expiry and returns the bound frame ID
// without consuming the token.
func (i *TokenIssuer) Parse(token string) (string, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, i.secret), jwt.WithValidate(true))
	if err != nil {
		return "", fmt.Errorf("invalid resume token: %w", err)
	}
	return tok.Subject(), nil
}

// Validate checks a token against the current frame state and burns it.
// Version mismatch rejects the token so an old handle can never roll a
// frame back.
func (i *TokenIssuer) Validate(token string, f *ExecutionFrame) (snapshotID string, err error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, i.secret), jwt.WithValidate(true))
	if err != nil {
		return "", fmt.Errorf("invalid resume token: %w", err)
	}

	if tok.Subject() != f.FrameID {
		return "", fmt.Errorf("resume token is for frame %s, not %s", tok.Subject(), f.FrameID)
	}
	if scope, _ := tok.Get("scope"); scope != tokenScope {
		return "", fmt.Errorf("resume token has wrong scope")
	}
	version, ok := tok.Get("frame_version")
	if !ok || int(asInt64(version)) != f.Version {
		return "", ErrStaleToken
	}
	if !f.Status.Resumable() {
		return "", fmt.Errorf("%w: status %s", ErrNotResumable, f.Status)
	}
	sid, _ := tok.Get("snapshot_id")
	snapshotID, _ = sid.(string)
	if snapshotID == "" {
		return "", fmt.Errorf("resume token carries no snapshot")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	jti := tok.JwtID()
	if _, replayed := i.used[jti]; replayed {
		return "", ErrTokenReplayed
	}
	i.used[jti] = struct{}{}
	return snapshotID, nil
}

// asInt64 tolerates the numeric types JWT claims decode into.
func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return -1
	}
}

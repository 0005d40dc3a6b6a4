package auth

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

// Verification errors
var (
	ErrMissingHeaders = errors.New("missing signature headers")
	ErrUnknownKey     = errors.New("unknown key id")
	ErrBadTimestamp   = errors.New("malformed timestamp")
	ErrClockSkew      = errors.New("timestamp outside allowed skew")
	ErrBadSignature   = errors.New("signature verification failed")
)

// Verifier checks signed upgrade requests against a single public key.
type Verifier struct {
	keyID   string
	key     *rsa.PublicKey
	maxSkew time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewVerifier creates a Verifier. A nil clock uses the real clock.
func NewVerifier(keyID string, key *rsa.PublicKey, maxSkew time.Duration, clock clockwork.Clock, logger *slog.Logger) *Verifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		keyID:   keyID,
		key:     key,
		maxSkew: maxSkew,
		clock:   clock,
		logger:  logger.With("component", "auth"),
	}
}

// LoadVerifier builds a Verifier from a PEM public key file.
func LoadVerifier(keyID, publicKeyPath string, maxSkew time.Duration, logger *slog.Logger) (*Verifier, error) {
	key, err := LoadPublicKey(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return NewVerifier(keyID, key, maxSkew, nil, logger), nil
}

// Verify checks the signature headers on r.
func (v *Verifier) Verify(r *http.Request) error {
	keyID := r.Header.Get(HeaderKey)
	ts := r.Header.Get(HeaderTimestamp)
	sig := r.Header.Get(HeaderSignature)
	if keyID == "" || ts == "" || sig == "" {
		return ErrMissingHeaders
	}
	if keyID != v.keyID {
		return ErrUnknownKey
	}

	timestampMs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	skew := v.clock.Now().Sub(time.UnixMilli(timestampMs))
	if skew < 0 {
		skew = -skew
	}
	if v.maxSkew > 0 && skew > v.maxSkew {
		return ErrClockSkew
	}

	signature, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}

	hashed := signedDigest(timestampMs, r.Method, r.URL.Path)
	err = rsa.VerifyPSS(v.key, crypto.SHA256, hashed[:], signature,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return ErrBadSignature
	}
	return nil
}

// Authorize adapts Verify to the relay's authorization hook.
func (v *Verifier) Authorize(r *http.Request) bool {
	if err := v.Verify(r); err != nil {
		v.logger.Debug("upgrade signature rejected", "remote", r.RemoteAddr, "error", err)
		return false
	}
	return true
}

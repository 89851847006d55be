package crypto

import (
	"context"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// SignatureAuthenticator accepts a request only when its signature recovers
// to the claimed caller, its signed deadline has not passed and the nonce is
// fresh.
//
// A deadline may lie at most window ahead of now. Nonce guards keep a pair
// for at least window, so a request expires before its nonce record does.
type SignatureAuthenticator struct {
	nonces NonceGuard
	window time.Duration
	now    func() time.Time
}

// NewSignatureAuthenticator creates an authenticator backed by nonces. window
// is the replay TTL the nonce guard was built with.
func NewSignatureAuthenticator(nonces NonceGuard, window time.Duration) *SignatureAuthenticator {
	return &SignatureAuthenticator{nonces: nonces, window: window, now: time.Now}
}

// WithClock replaces the time source used for deadline checks.
func (a *SignatureAuthenticator) WithClock(now func() time.Time) *SignatureAuthenticator {
	a.now = now
	return a
}

// Authenticate implements domain.Authenticator. A nonce is spent once the
// signature and deadline verify, even if the operation later fails.
func (a *SignatureAuthenticator) Authenticate(ctx context.Context, cred domain.Credentials, req domain.Request) (domain.Identity, error) {
	signer, err := Recover(Digest(req.Op(), req.SigningBytes(), cred.Nonce, cred.Deadline), cred.Signature)
	if err != nil {
		return domain.Identity{}, err
	}
	if signer != cred.Caller {
		return domain.Identity{}, domain.ErrBadSignature
	}

	now := a.now()
	deadline := time.Unix(cred.Deadline, 0)
	if !now.Before(deadline) || deadline.Sub(now) > a.window {
		return domain.Identity{}, domain.ErrRequestExpired
	}
	if err := a.nonces.Use(ctx, cred.Caller, cred.Nonce); err != nil {
		return domain.Identity{}, err
	}
	return cred.Caller, nil
}

// TrustedAuthenticator takes the claimed caller at face value. It serves
// local development and tests where the transport is already trusted.
type TrustedAuthenticator struct{}

// Authenticate implements domain.Authenticator.
func (TrustedAuthenticator) Authenticate(_ context.Context, cred domain.Credentials, _ domain.Request) (domain.Identity, error) {
	return cred.Caller, nil
}

var (
	_ domain.Authenticator = (*SignatureAuthenticator)(nil)
	_ domain.Authenticator = TrustedAuthenticator{}
)

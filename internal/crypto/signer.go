package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/band4band/internal/domain"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signingPrefix domain-separates band4band digests from other keccak
// signatures made with the same key.
const signingPrefix = "\x19band4band:"

// DefaultRequestValidity is how long a signed request stays acceptable
// when the signer is not told otherwise.
const DefaultRequestValidity = 5 * time.Minute

// Digest is the 32-byte hash a caller signs for op:
//
//	keccak256("\x19band4band:" || op || msg || nonce || deadline)
//
// with nonce and deadline (Unix seconds) as 8 big-endian bytes each.
func Digest(op domain.Op, msg []byte, nonce uint64, deadline int64) []byte {
	var n, d [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	binary.BigEndian.PutUint64(d[:], uint64(deadline))
	return ethcrypto.Keccak256([]byte(signingPrefix), []byte(op), msg, n[:], d[:])
}

// Signer holds an account key and signs requests for it.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  domain.Identity
	validity time.Duration
	now      func() time.Time
}

// NewSigner creates a Signer from a hex secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk), nil
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generating key: %w", err)
	}
	return newSigner(pk), nil
}

func newSigner(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:      pk,
		address:  ethcrypto.PubkeyToAddress(pk.PublicKey),
		validity: DefaultRequestValidity,
		now:      time.Now,
	}
}

// WithValidity sets how far ahead of now SignRequest places the deadline.
// It must not exceed the node's replay TTL.
func (s *Signer) WithValidity(d time.Duration) *Signer {
	s.validity = d
	return s
}

// WithClock replaces the time source used for deadlines.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Address is the account the signer acts for.
func (s *Signer) Address() domain.Identity { return s.address }

// SignRequest returns the credentials authorizing req under nonce, valid
// until the signer's validity period elapses.
func (s *Signer) SignRequest(req domain.Request, nonce uint64) (domain.Credentials, error) {
	return s.SignRequestUntil(req, nonce, s.now().Add(s.validity))
}

// SignRequestUntil returns the credentials authorizing req under nonce until
// deadline.
func (s *Signer) SignRequestUntil(req domain.Request, nonce uint64, deadline time.Time) (domain.Credentials, error) {
	dl := deadline.Unix()
	sig, err := ethcrypto.Sign(Digest(req.Op(), req.SigningBytes(), nonce, dl), s.key)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("crypto/signer: signing %s: %w", req.Op(), err)
	}
	// Publish v as 27/28 like other Ethereum-style signers.
	sig[64] += 27
	return domain.Credentials{Caller: s.address, Nonce: nonce, Deadline: dl, Signature: sig}, nil
}

// Recover returns the account that produced sig over digest. v may be
// 0/1 or 27/28.
func Recover(digest, sig []byte) (domain.Identity, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return domain.Identity{}, fmt.Errorf("%w: signature must be %d bytes", domain.ErrBadSignature, ethcrypto.SignatureLength)
	}
	norm := make([]byte, len(sig))
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, norm)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

package oracle

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/alanyoungcy/band4band/internal/domain"
)

// HashPayload returns the SHA-256 digest of payload bytes.
func HashPayload(payload []byte) domain.Hash {
	return domain.Hash(sha256.Sum256(payload))
}

// VerifyPayloadAgainstHash reports whether payload hashes to expected.
func VerifyPayloadAgainstHash(payload []byte, expected domain.Hash) bool {
	got := HashPayload(payload)
	return subtle.ConstantTimeCompare(got[:], expected[:]) == 1
}

// ComputeCID returns the CIDv1 (raw codec, sha2-256) naming content whose
// SHA-256 digest is h. The feed hash and CID therefore commit to the same
// bytes.
func ComputeCID(h domain.Hash) (string, error) {
	sum, err := mh.Encode(h[:], mh.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("oracle: multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// HashFromCID extracts the SHA-256 digest a CID commits to.
func HashFromCID(s string) (domain.Hash, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return domain.Hash{}, fmt.Errorf("%w: cid %q: %v", domain.ErrInvalidInput, s, err)
	}
	dec, err := mh.Decode(c.Hash())
	if err != nil {
		return domain.Hash{}, fmt.Errorf("%w: cid %q: %v", domain.ErrInvalidInput, s, err)
	}
	if dec.Code != mh.SHA2_256 || len(dec.Digest) != domain.HashLen {
		return domain.Hash{}, fmt.Errorf("%w: cid %q is not sha2-256", domain.ErrInvalidInput, s)
	}
	var h domain.Hash
	copy(h[:], dec.Digest)
	return h, nil
}

// VerifyPinned checks that payload is the content named by cidStr.
func VerifyPinned(cidStr string, payload []byte) error {
	h, err := HashFromCID(cidStr)
	if err != nil {
		return err
	}
	if !VerifyPayloadAgainstHash(payload, h) {
		return fmt.Errorf("%w: payload does not match cid %s", domain.ErrInvalidInput, cidStr)
	}
	return nil
}

// Prepared is a validated payload ready to pin and publish.
type Prepared struct {
	Payload   GamePayload
	Canonical []byte
	Hash      domain.Hash
	CID       string
}

// Prepare canonicalizes p and derives its hash and CID.
func Prepare(p GamePayload) (Prepared, error) {
	if err := p.Validate(); err != nil {
		return Prepared{}, err
	}
	raw, err := p.Canonical()
	if err != nil {
		return Prepared{}, err
	}
	h := HashPayload(raw)
	c, err := ComputeCID(h)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Payload: p, Canonical: raw, Hash: h, CID: c}, nil
}

// Update is the feed update that publishes pp, stamped at ts.
func (pp Prepared) Update(ts int64) (domain.FeedUpdate, error) {
	c, err := domain.NewCID(pp.CID)
	if err != nil {
		return domain.FeedUpdate{}, err
	}
	return domain.FeedUpdate{PayloadHash: pp.Hash, CID: c, Timestamp: ts}, nil
}

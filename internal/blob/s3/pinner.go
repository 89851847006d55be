package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/alanyoungcy/band4band/internal/domain"
	"github.com/alanyoungcy/band4band/internal/oracle"
)

// maxPayloadSize caps what Fetch will read back from the bucket.
const maxPayloadSize = 1 << 20

var _ domain.Pinner = (*Pinner)(nil)

// Pinner keeps result payloads under <prefix>/<cid>.json. Objects are
// immutable: a CID names its content, so an existing object is never
// rewritten.
type Pinner struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

func NewPinner(w domain.BlobWriter, r domain.BlobReader, prefix string) *Pinner {
	return &Pinner{writer: w, reader: r, prefix: prefix}
}

// Pin stores payload under cid after checking that cid names it.
func (p *Pinner) Pin(ctx context.Context, cid string, payload []byte) error {
	if err := oracle.VerifyPinned(cid, payload); err != nil {
		return fmt.Errorf("s3blob: pin: %w", err)
	}
	key := p.key(cid)
	ok, err := p.reader.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("s3blob: pin %s: %w", cid, err)
	}
	if ok {
		return nil
	}
	if err := p.writer.Put(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("s3blob: pin %s: %w", cid, err)
	}
	return nil
}

// Fetch returns the payload pinned under cid and verifies it against cid.
func (p *Pinner) Fetch(ctx context.Context, cid string) ([]byte, error) {
	body, err := p.reader.Get(ctx, p.key(cid))
	if err != nil {
		return nil, fmt.Errorf("s3blob: fetch %s: %w", cid, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("s3blob: fetch %s: %w", cid, err)
	}
	if err := oracle.VerifyPinned(cid, raw); err != nil {
		return nil, fmt.Errorf("s3blob: fetch: %w", err)
	}
	return raw, nil
}

func (p *Pinner) key(cid string) string {
	return joinKey(p.prefix, cid+".json")
}

package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Credentials accompany every state-changing request.
type Credentials struct {
	Caller    Identity      `json:"caller"`
	Nonce     uint64        `json:"nonce"`
	Deadline  int64         `json:"deadline"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

// Authenticator proves that cred.Caller authorized req and returns the
// identity the engine should act for.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credentials, req Request) (Identity, error)
}

package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"auctionchain/crypto"
)

var (
	ErrInvalidSignature = errors.New("core: signature does not match caller")
	ErrStaleNonce       = errors.New("core: nonce must exceed the last used nonce")
)

// Call is an authenticated request to run a mutating operation. The signature
// covers the method name, the exact payload bytes and the nonce.
type Call struct {
	Method    string
	Payload   []byte
	Caller    [20]byte
	Nonce     uint64
	Signature []byte
}

// CallDigest returns keccak256(method | payload | bigEndian(nonce)).
func CallDigest(method string, payload []byte, nonce uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256([]byte(method), payload, n[:])
}

// SignCall produces the signature a client attaches to a Call.
func SignCall(key *crypto.PrivateKey, method string, payload []byte, nonce uint64) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("core: signing key required")
	}
	return key.Sign(CallDigest(method, payload, nonce))
}

func (c Call) verify() error {
	signer, err := crypto.RecoverAddress(CallDigest(c.Method, c.Payload, c.Nonce), c.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != c.Caller {
		return ErrInvalidSignature
	}
	return nil
}

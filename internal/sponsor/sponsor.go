// Package sponsor is the off-chain half of the protocol: it signs
// sponsorship terms for a user operation with the sponsor key and emits the
// exact wire bytes for the operation's paymaster field, in either
// entry-point encoding.
package sponsor

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defi-bear/paymaster/internal/auth"
	"github.com/defi-bear/paymaster/internal/userop"
	"github.com/defi-bear/paymaster/internal/voucher"
)

// Sponsor signs vouchers binding sponsorship terms to one specific
// operation. Its address must be registered as a signer for the engine to
// accept its vouchers.
type Sponsor struct {
	key       *ecdsa.PrivateKey
	chainID   *big.Int
	paymaster common.Address
}

func New(key *ecdsa.PrivateKey, chainID *big.Int, paymaster common.Address) *Sponsor {
	return &Sponsor{key: key, chainID: chainID, paymaster: paymaster}
}

// Address returns the sponsor's signing address.
func (s *Sponsor) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign sets v.Signature to the sponsor's attestation over op and the
// voucher terms. The digest binds every operation field, so the signature is
// useless on any other operation.
func (s *Sponsor) Sign(op *userop.Operation, v *voucher.Voucher) error {
	digest := voucher.SigningHash(op, v, s.chainID, s.paymaster)
	sig, err := crypto.Sign(auth.HashMessage(digest[:]), s.key)
	if err != nil {
		return fmt.Errorf("sign voucher: %w", err)
	}
	// Convert V from 0/1 to 27/28, the on-wire convention
	sig[64] += 27
	v.Signature = sig
	return nil
}

// PaymasterAndData assembles the complete paymaster field for a signed
// voucher. The legacy encoding prefixes the 20-byte paymaster address; the
// packed encoding prefixes address ‖ validationGasLimit ‖ postOpGasLimit.
func (s *Sponsor) PaymasterAndData(version userop.Version, validationGas, postOpGas *big.Int, v *voucher.Voucher) []byte {
	tail := v.Encode()
	out := make([]byte, 0, 52+len(tail))
	out = append(out, s.paymaster.Bytes()...)
	if version == userop.VersionPacked {
		out = appendUint128(out, validationGas)
		out = appendUint128(out, postOpGas)
	}
	return append(out, tail...)
}

func appendUint128(b []byte, v *big.Int) []byte {
	word := make([]byte, 16)
	if v != nil {
		v.FillBytes(word)
	}
	return append(b, word...)
}

package voucher

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defi-bear/paymaster/internal/auth"
	"github.com/defi-bear/paymaster/internal/userop"
)

// SigningHash computes the canonical digest the sponsor attests to: every
// operation field that prices the sponsorship (sender, nonce, init-code and
// call-data hashes, gas limits, fee caps), the domain (chain ID and
// paymaster address), and every voucher term except the signature itself.
// Both wire encodings hash through their normalized view, so equivalent
// operations produce byte-identical digests regardless of entry-point
// version.
func SigningHash(op *userop.Operation, v *Voucher, chainID *big.Int, paymaster common.Address) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(op.Sender.Bytes(), 32),
		common.LeftPadBytes(op.Nonce.Bytes(), 32),
		crypto.Keccak256(op.InitCode),
		crypto.Keccak256(op.CallData),
		padUint(op.CallGasLimit),
		padUint(op.VerificationGasLimit),
		padUint(op.PreVerificationGas),
		padUint(op.MaxFeePerGas),
		padUint(op.MaxPriorityFeePerGas),
		padUint(chainID),
		common.LeftPadBytes(paymaster.Bytes(), 32),
		[]byte{byte(v.Mode)},
		padUint(new(big.Int).SetUint64(v.ValidUntil)),
		padUint(new(big.Int).SetUint64(v.ValidAfter)),
		common.LeftPadBytes(v.FeeToken.Bytes(), 32),
		padUint(v.ExchangeRate),
		padUint(v.FundAmount),
	)
}

// RecoverSigner applies the EIP-191 personal-message envelope to the
// canonical digest and recovers the attesting address from the voucher's
// signature. 65-byte signatures carry V in {0,1} or {27,28}; 64-byte
// signatures are EIP-2098 compact with the parity bit folded into S.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	norm, err := normalizeSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	wrapped := auth.HashMessage(digest[:])
	pub, err := crypto.SigToPub(wrapped, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func normalizeSignature(sig []byte) ([]byte, error) {
	out := make([]byte, 65)
	switch len(sig) {
	case 65:
		copy(out, sig)
		if out[64] >= 27 {
			out[64] -= 27
		}
	case 64:
		copy(out, sig)
		out[64] = sig[32] >> 7
		out[32] &= 0x7f
	default:
		return nil, ErrSignatureLengthInvalid
	}
	return out, nil
}

func padUint(v *big.Int) []byte {
	b := make([]byte, 32)
	if v != nil {
		v.FillBytes(b)
	}
	return b
}

// Package voucher implements the sponsorship voucher: the signed
// authorization a sponsor embeds in an operation's paymaster field. It owns
// the wire codec and the canonical signing digest; signature policy (who may
// sign) lives in the engine's registry.
package voucher

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects how the sponsor is compensated.
type Mode uint8

const (
	// ModeVerifying sponsors gas for free; settlement moves no tokens.
	ModeVerifying Mode = iota
	// ModeERC20 collects an ERC-20 payment at the signer-attested rate.
	ModeERC20
)

func (m Mode) String() string {
	switch m {
	case ModeVerifying:
		return "verifying"
	case ModeERC20:
		return "erc20"
	default:
		return "invalid"
	}
}

// Decode failure taxonomy. All are permanent validation failures; the host
// rejects the operation before inclusion.
var (
	ErrDataTooShort           = errors.New("voucher: data too short for mode byte")
	ErrModeInvalid            = errors.New("voucher: unknown mode byte")
	ErrConfigTooShort         = errors.New("voucher: config shorter than mode requires")
	ErrSignatureLengthInvalid = errors.New("voucher: signature must be 64 or 65 bytes")
	ErrTokenAddressInvalid    = errors.New("voucher: zero fee token in erc20 mode")
	ErrPriceInvalid           = errors.New("voucher: zero exchange rate in erc20 mode")
)

// Voucher is the decoded sponsorship authorization. FeeToken and
// ExchangeRate are meaningful only when Mode is ModeERC20; the settlement
// engine switches exhaustively on Mode and never reads them otherwise.
// A Voucher is never mutated after Decode.
type Voucher struct {
	Mode         Mode
	FundAmount   *big.Int // uint128 advance amount, host-specific semantics
	ValidUntil   uint64   // uint48 unix seconds, 0 = no upper bound
	ValidAfter   uint64   // uint48 unix seconds
	FeeToken     common.Address
	ExchangeRate *big.Int // uint256 token-per-native price, 1e18 fixed point
	Signature    []byte   // 64 (compact) or 65 bytes
}

// Wire layout widths. The paymaster header (address and its gas limits) is
// stripped by the userop adapters before these offsets apply.
const (
	fundAmountLen = 16
	timestampLen  = 6

	verifyingConfigLen = fundAmountLen + 2*timestampLen                       // 28
	erc20ConfigLen     = verifyingConfigLen + common.AddressLength + 32       // 80
)

func configLen(m Mode) int {
	if m == ModeERC20 {
		return erc20ConfigLen
	}
	return verifyingConfigLen
}

// Decode parses the voucher tail of a paymaster field: one mode byte, the
// mode's fixed config, then a signature consuming every remaining byte.
// Every length check runs before any field is extracted, so a failed decode
// never exposes a partial voucher.
func Decode(data []byte) (*Voucher, error) {
	if len(data) < 1 {
		return nil, ErrDataTooShort
	}
	mode := Mode(data[0])
	if mode != ModeVerifying && mode != ModeERC20 {
		return nil, ErrModeInvalid
	}

	cfg := data[1:]
	fixed := configLen(mode)
	if len(cfg) < fixed {
		return nil, ErrConfigTooShort
	}
	sig := cfg[fixed:]
	if len(sig) != 64 && len(sig) != 65 {
		return nil, ErrSignatureLengthInvalid
	}

	v := &Voucher{
		Mode:       mode,
		FundAmount: new(big.Int).SetBytes(cfg[:fundAmountLen]),
		ValidUntil: uint48(cfg[fundAmountLen : fundAmountLen+timestampLen]),
		ValidAfter: uint48(cfg[fundAmountLen+timestampLen : verifyingConfigLen]),
		Signature:  append([]byte(nil), sig...),
	}

	if mode == ModeERC20 {
		token := common.BytesToAddress(cfg[verifyingConfigLen : verifyingConfigLen+common.AddressLength])
		rate := new(big.Int).SetBytes(cfg[verifyingConfigLen+common.AddressLength : erc20ConfigLen])
		if token == (common.Address{}) {
			return nil, ErrTokenAddressInvalid
		}
		if rate.Sign() == 0 {
			return nil, ErrPriceInvalid
		}
		v.FeeToken = token
		v.ExchangeRate = rate
	}

	return v, nil
}

// Encode produces the exact wire bytes Decode parses. It is the inverse used
// by the sponsorship issuance side and the tests.
func (v *Voucher) Encode() []byte {
	out := make([]byte, 0, 1+configLen(v.Mode)+len(v.Signature))
	out = append(out, byte(v.Mode))

	fund := make([]byte, fundAmountLen)
	if v.FundAmount != nil {
		v.FundAmount.FillBytes(fund)
	}
	out = append(out, fund...)
	out = appendUint48(out, v.ValidUntil)
	out = appendUint48(out, v.ValidAfter)

	if v.Mode == ModeERC20 {
		out = append(out, v.FeeToken.Bytes()...)
		rate := make([]byte, 32)
		if v.ExchangeRate != nil {
			v.ExchangeRate.FillBytes(rate)
		}
		out = append(out, rate...)
	}

	return append(out, v.Signature...)
}

func uint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func appendUint48(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>40), byte(v>>32), byte(v>>24),
		byte(v>>16), byte(v>>8), byte(v),
	)
}

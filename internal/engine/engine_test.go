package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/defi-bear/paymaster/internal/journal"
	"github.com/defi-bear/paymaster/internal/registry"
	"github.com/defi-bear/paymaster/internal/sponsor"
	"github.com/defi-bear/paymaster/internal/token"
	"github.com/defi-bear/paymaster/internal/userop"
	"github.com/defi-bear/paymaster/internal/voucher"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

var (
	// Fixed deterministic test key (not used anywhere outside tests)
	testPrivKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testChainID    = big.NewInt(31337)

	testPaymaster = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testOwner     = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	testSender    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	hostLegacy    = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	hostPacked    = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	testERC20     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	testRate   = big.NewInt(2_000_000_000_000_000_000) // 2 tokens per native unit
	testOpHash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	// All validity windows in the tests are placed around this instant.
	testNow = time.Unix(1_750_000_000, 0)
)

type fixture struct {
	eng    *Engine
	sp     *sponsor.Sponsor
	ledger *token.Ledger
	reg    *registry.Registry
	jrnl   *journal.Journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	jrnl := journal.New(rdb, testPaymaster, zap.NewNop())

	key, err := crypto.HexToECDSA(testPrivKeyHex)
	if err != nil {
		t.Fatalf("load test private key: %v", err)
	}
	sp := sponsor.New(key, testChainID, testPaymaster)

	reg := registry.New(testOwner, jrnl, zap.NewNop())
	if err := reg.AddSigner(context.Background(), testOwner, sp.Address()); err != nil {
		t.Fatalf("register sponsor signer: %v", err)
	}

	ledger := token.NewLedger(testPaymaster)
	eng := New(Config{
		Self:     testPaymaster,
		ChainID:  testChainID,
		Hosts:    []common.Address{hostLegacy, hostPacked},
		Registry: reg,
		Transfer: ledger,
		Journal:  jrnl,
		Log:      zap.NewNop(),
		Now:      func() time.Time { return testNow },
	})
	return &fixture{eng: eng, sp: sp, ledger: ledger, reg: reg, jrnl: jrnl}
}

func erc20Terms() *voucher.Voucher {
	return &voucher.Voucher{
		Mode:         voucher.ModeERC20,
		FundAmount:   big.NewInt(0),
		ValidUntil:   uint64(testNow.Unix()) + 3600,
		ValidAfter:   uint64(testNow.Unix()) - 3600,
		FeeToken:     testERC20,
		ExchangeRate: new(big.Int).Set(testRate),
	}
}

func verifyingTerms() *voucher.Voucher {
	return &voucher.Voucher{
		Mode:       voucher.ModeVerifying,
		FundAmount: big.NewInt(0),
		ValidUntil: uint64(testNow.Unix()) + 3600,
		ValidAfter: uint64(testNow.Unix()) - 3600,
	}
}

// signedOp builds a legacy-encoded operation carrying a voucher signed by
// the fixture's sponsor and returns its normalized view.
func (f *fixture) signedOp(t *testing.T, v *voucher.Voucher) *userop.Operation {
	t.Helper()
	raw := &userop.UserOperation{
		Sender:               testSender,
		Nonce:                big.NewInt(1),
		CallData:             []byte{0xde, 0xad},
		CallGasLimit:         big.NewInt(100_000),
		VerificationGasLimit: big.NewInt(150_000),
		PreVerificationGas:   big.NewInt(21_000),
		MaxFeePerGas:         big.NewInt(30),
		MaxPriorityFeePerGas: big.NewInt(2),
		PaymasterAndData:     testPaymaster.Bytes(),
	}
	op, err := raw.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := f.sp.Sign(op, v); err != nil {
		t.Fatalf("sign voucher: %v", err)
	}
	raw.PaymasterAndData = f.sp.PaymasterAndData(userop.VersionLegacy, nil, nil, v)
	op, err = raw.Normalize()
	if err != nil {
		t.Fatalf("normalize signed: %v", err)
	}
	return op
}

// ── validate: authorization ───────────────────────────────────────────────────

func TestValidate_ERC20(t *testing.T) {
	f := newFixture(t)
	v := erc20Terms()
	op := f.signedOp(t, v)

	sctx, deadline, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if deadline != v.ValidUntil {
		t.Errorf("deadline: got %d want %d", deadline, v.ValidUntil)
	}
	if sctx.Sender != testSender || sctx.FeeToken != testERC20 {
		t.Errorf("context: sender %s token %s", sctx.Sender.Hex(), sctx.FeeToken.Hex())
	}
	if sctx.ExchangeRate.Cmp(testRate) != 0 {
		t.Errorf("context rate: got %v want %v", sctx.ExchangeRate, testRate)
	}
	if sctx.MaxFeePerGas == nil {
		t.Error("legacy context should carry fee caps")
	}
}

func TestValidate_Verifying(t *testing.T) {
	f := newFixture(t)
	sctx, _, err := f.eng.Validate(context.Background(), hostLegacy, f.signedOp(t, verifyingTerms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if sctx.ExchangeRate != nil || sctx.FeeToken != (common.Address{}) {
		t.Error("verifying context should carry no token terms")
	}
}

func TestValidate_CallerNotHost(t *testing.T) {
	f := newFixture(t)
	op := f.signedOp(t, erc20Terms())
	_, _, err := f.eng.Validate(context.Background(), testSender, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrCallerNotHost) {
		t.Errorf("got %v want ErrCallerNotHost", err)
	}
}

func TestValidate_UnregisteredSigner(t *testing.T) {
	f := newFixture(t)
	op := f.signedOp(t, erc20Terms())
	if err := f.reg.RemoveSigner(context.Background(), testOwner, f.sp.Address()); err != nil {
		t.Fatalf("remove signer: %v", err)
	}
	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("got %v want ErrSignatureInvalid", err)
	}
}

func TestValidate_TamperedOperation(t *testing.T) {
	f := newFixture(t)
	op := f.signedOp(t, erc20Terms())
	op.CallData = []byte{0xbe, 0xef}

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("got %v want ErrSignatureInvalid", err)
	}
}

func TestValidate_TamperedTerms(t *testing.T) {
	f := newFixture(t)
	v := erc20Terms()
	op := f.signedOp(t, v)

	// Re-encode the voucher with a sweeter rate but the original signature.
	v.ExchangeRate = big.NewInt(1)
	op.VoucherData = v.Encode()

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("got %v want ErrSignatureInvalid", err)
	}
}

func TestValidate_MalformedVoucher(t *testing.T) {
	f := newFixture(t)
	op := f.signedOp(t, erc20Terms())
	op.VoucherData = op.VoucherData[:3]

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, voucher.ErrConfigTooShort) {
		t.Errorf("got %v want voucher.ErrConfigTooShort", err)
	}
}

// ── validate: time windows ────────────────────────────────────────────────────

func TestValidate_Expired(t *testing.T) {
	f := newFixture(t)
	v := erc20Terms()
	v.ValidUntil = uint64(testNow.Unix()) - 1
	op := f.signedOp(t, v)

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrExpired) {
		t.Errorf("got %v want ErrExpired", err)
	}
}

func TestValidate_ExpiredAtBoundary(t *testing.T) {
	// now == validUntil is already expired.
	f := newFixture(t)
	v := erc20Terms()
	v.ValidUntil = uint64(testNow.Unix())
	op := f.signedOp(t, v)

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrExpired) {
		t.Errorf("got %v want ErrExpired", err)
	}
}

func TestValidate_ZeroValidUntilNeverExpires(t *testing.T) {
	f := newFixture(t)
	v := erc20Terms()
	v.ValidUntil = 0
	op := f.signedOp(t, v)

	if _, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1)); err != nil {
		t.Errorf("validUntil=0 should never expire, got %v", err)
	}
}

func TestValidate_NotYetValid(t *testing.T) {
	f := newFixture(t)
	v := erc20Terms()
	v.ValidAfter = uint64(testNow.Unix()) + 1
	op := f.signedOp(t, v)

	_, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1))
	if !errors.Is(err, ErrNotYetValid) {
		t.Errorf("got %v want ErrNotYetValid", err)
	}
}

func TestValidate_ValidAfterBoundary(t *testing.T) {
	// now == validAfter is valid.
	f := newFixture(t)
	v := erc20Terms()
	v.ValidAfter = uint64(testNow.Unix())
	op := f.signedOp(t, v)

	if _, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1)); err != nil {
		t.Errorf("now == validAfter should be valid, got %v", err)
	}
}

// ── settle ────────────────────────────────────────────────────────────────────

func TestSettle_ERC20(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	actualGasCost := big.NewInt(100_000)
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, actualGasCost); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// 100_000 gas cost at 2e18/1e18 rate = 200_000 tokens to the treasury.
	treasury := f.reg.Treasury()
	if got := f.ledger.BalanceOf(testERC20, treasury).Int64(); got != 200_000 {
		t.Errorf("treasury balance: got %d want 200000", got)
	}
	if got := f.ledger.BalanceOf(testERC20, testSender).Int64(); got != 800_000 {
		t.Errorf("sender balance: got %d want 800000", got)
	}

	recs, err := f.jrnl.Tail(ctx, 1)
	if err != nil {
		t.Fatalf("journal tail: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != journal.KindSponsorship || !recs[0].ERC20 {
		t.Fatalf("journal: got %+v want one erc20 sponsorship record", recs)
	}
	if recs[0].TokenAmount != "200000" {
		t.Errorf("recorded amount: got %s want 200000", recs[0].TokenAmount)
	}
}

func TestSettle_OpRevertedStillPulls(t *testing.T) {
	// Gas was consumed even though the operation reverted, so the sponsor
	// is still owed payment.
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpReverted, sctx, big.NewInt(50_000)); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := f.ledger.BalanceOf(testERC20, f.reg.Treasury()).Int64(); got != 100_000 {
		t.Errorf("treasury balance: got %d want 100000", got)
	}
}

func TestSettle_Verifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, verifyingTerms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000)); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	recs, err := f.jrnl.Tail(ctx, 1)
	if err != nil {
		t.Fatalf("journal tail: %v", err)
	}
	if len(recs) != 1 || recs[0].ERC20 || recs[0].TokenAmount != "0" {
		t.Fatalf("journal: got %+v want one free sponsorship record", recs)
	}
}

func TestSettle_CallerNotHost(t *testing.T) {
	f := newFixture(t)
	sctx := &SettlementContext{Sender: testSender, OpHash: testOpHash}
	err := f.eng.Settle(context.Background(), testSender, SettleOpSucceeded, sctx, big.NewInt(1))
	if !errors.Is(err, ErrCallerNotHost) {
		t.Errorf("got %v want ErrCallerNotHost", err)
	}
}

func TestSettle_TransferFromFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No balance, no allowance: the pull must fail as the typed settlement
	// error and must not land a journal record.
	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	err = f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000))
	if !errors.Is(err, ErrTransferFromFailed) {
		t.Fatalf("got %v want ErrTransferFromFailed", err)
	}

	n, err := f.jrnl.Len(ctx)
	if err != nil {
		t.Fatalf("journal len: %v", err)
	}
	// Only the fixture's signer_added record exists.
	if n != 1 {
		t.Errorf("journal records after failed settle: got %d want 1", n)
	}
}

func TestSettle_PostOpRevertedNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// First settle fails (no funds). The host then notifies with the
	// reverted mode; that call must succeed and must not retry the pull.
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000)); !errors.Is(err, ErrTransferFromFailed) {
		t.Fatalf("first settle: got %v want ErrTransferFromFailed", err)
	}

	// Even with funds now available, the notification pulls nothing.
	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))
	if err := f.eng.Settle(ctx, hostLegacy, SettlePostOpReverted, sctx, big.NewInt(100_000)); err != nil {
		t.Fatalf("notification settle: %v", err)
	}
	if got := f.ledger.BalanceOf(testERC20, f.reg.Treasury()); got.Sign() != 0 {
		t.Errorf("notification pulled %v tokens", got)
	}
}

func TestSettle_ContextSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000)); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000)); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second settle: got %v want ErrAlreadySettled", err)
	}
	// No double charge.
	if got := f.ledger.BalanceOf(testERC20, f.reg.Treasury()).Int64(); got != 200_000 {
		t.Errorf("treasury balance: got %d want 200000", got)
	}
}

func TestSettle_TreasuryChangeBetweenPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newTreasury := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))

	sctx, _, err := f.eng.Validate(ctx, hostLegacy, f.signedOp(t, erc20Terms()), testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := f.reg.SetTreasury(ctx, testOwner, newTreasury); err != nil {
		t.Fatalf("SetTreasury: %v", err)
	}
	if err := f.eng.Settle(ctx, hostLegacy, SettleOpSucceeded, sctx, big.NewInt(100_000)); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// Settlement pays the treasury current at settle time.
	if got := f.ledger.BalanceOf(testERC20, newTreasury).Int64(); got != 200_000 {
		t.Errorf("new treasury balance: got %d want 200000", got)
	}
	if got := f.ledger.BalanceOf(testERC20, testOwner); got.Sign() != 0 {
		t.Errorf("old treasury received %v", got)
	}
}

// ── attemptTransfer isolation ─────────────────────────────────────────────────

func TestAttemptTransfer_SelfOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(testERC20, testSender, big.NewInt(1000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1000))

	for _, caller := range []common.Address{testOwner, testSender, hostLegacy} {
		err := f.eng.AttemptTransfer(ctx, caller, testERC20, testSender, testOwner, big.NewInt(1))
		if !errors.Is(err, ErrNotSelf) {
			t.Errorf("caller %s: got %v want ErrNotSelf", caller.Hex(), err)
		}
	}
	if got := f.ledger.BalanceOf(testERC20, testSender).Int64(); got != 1000 {
		t.Errorf("rejected calls moved tokens: sender balance %d", got)
	}

	if err := f.eng.AttemptTransfer(ctx, testPaymaster, testERC20, testSender, testOwner, big.NewInt(1)); err != nil {
		t.Errorf("self call: %v", err)
	}
}

// ── host isolation across encodings ───────────────────────────────────────────

func TestBothHostsAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, host := range []common.Address{hostLegacy, hostPacked} {
		op := f.signedOp(t, erc20Terms())
		if _, _, err := f.eng.Validate(ctx, host, op, testOpHash, big.NewInt(1)); err != nil {
			t.Errorf("host %s: %v", host.Hex(), err)
		}
	}
}

// End to end through the packed encoding: sponsor emits the 52-byte header
// field, the adapter normalizes it, and the engine validates and settles.
func TestEndToEnd_PackedEncoding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ledger.Mint(testERC20, testSender, big.NewInt(1_000_000))
	f.ledger.Approve(testERC20, testSender, big.NewInt(1_000_000))

	raw := &userop.PackedUserOperation{
		Sender:             testSender,
		Nonce:              big.NewInt(1),
		CallData:           []byte{0xde, 0xad},
		AccountGasLimits:   userop.PackPair(big.NewInt(150_000), big.NewInt(100_000)),
		PreVerificationGas: big.NewInt(21_000),
		GasFees:            userop.PackPair(big.NewInt(2), big.NewInt(30)),
		PaymasterAndData:   append(testPaymaster.Bytes(), make([]byte, 32)...),
	}
	op, err := raw.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	v := erc20Terms()
	if err := f.sp.Sign(op, v); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw.PaymasterAndData = f.sp.PaymasterAndData(userop.VersionPacked, big.NewInt(60_000), big.NewInt(40_000), v)
	op, err = raw.Normalize()
	if err != nil {
		t.Fatalf("normalize signed: %v", err)
	}

	sctx, _, err := f.eng.Validate(ctx, hostPacked, op, testOpHash, big.NewInt(1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if sctx.MaxFeePerGas != nil {
		t.Error("packed context should not carry fee caps")
	}
	if err := f.eng.Settle(ctx, hostPacked, SettleOpSucceeded, sctx, big.NewInt(100_000)); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := f.ledger.BalanceOf(testERC20, f.reg.Treasury()).Int64(); got != 200_000 {
		t.Errorf("treasury balance: got %d want 200000", got)
	}
}

// ── prefunding ────────────────────────────────────────────────────────────────

type mockPrefunder struct {
	reserved []*big.Int
	err      error
}

func (m *mockPrefunder) Reserve(_ context.Context, _ common.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.reserved = append(m.reserved, new(big.Int).Set(amount))
	return nil
}

func TestValidate_ReservesFundAmount(t *testing.T) {
	f := newFixture(t)
	pf := &mockPrefunder{}
	f.eng.prefund = pf

	v := verifyingTerms()
	v.FundAmount = big.NewInt(5_000)
	op := f.signedOp(t, v)

	if _, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(pf.reserved) != 1 || pf.reserved[0].Int64() != 5_000 {
		t.Errorf("reserved: got %v want [5000]", pf.reserved)
	}
}

func TestValidate_ReserveFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.eng.prefund = &mockPrefunder{err: errors.New("balance too low")}

	v := verifyingTerms()
	v.FundAmount = big.NewInt(5_000)
	op := f.signedOp(t, v)

	if _, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1)); err == nil {
		t.Error("expected reserve failure to abort validation")
	}
}

func TestValidate_ZeroFundSkipsReserve(t *testing.T) {
	f := newFixture(t)
	pf := &mockPrefunder{}
	f.eng.prefund = pf

	op := f.signedOp(t, verifyingTerms())
	if _, _, err := f.eng.Validate(context.Background(), hostLegacy, op, testOpHash, big.NewInt(1)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(pf.reserved) != 0 {
		t.Errorf("zero fund amount should not reserve, got %v", pf.reserved)
	}
}

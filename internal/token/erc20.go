package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

// Client executes transferFrom against real ERC-20 contracts over RPC,
// spending the allowance granted to the paymaster's key.
type Client struct {
	eth     *ethclient.Client
	parsed  abi.ABI
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

func NewClient(rpcURL, keyHex string, chainID int64) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Client{
		eth:     eth,
		parsed:  parsed,
		key:     key,
		chainID: big.NewInt(chainID),
	}, nil
}

// TransferFrom submits the transferFrom transaction and waits for a receipt.
// A reverted receipt is reported as an error so the engine can surface the
// typed settlement failure.
func (c *Client) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return fmt.Errorf("build tx opts: %w", err)
	}
	opts.Context = ctx

	bound := bind.NewBoundContract(token, c.parsed, c.eth, c.eth, c.eth)
	tx, err := bound.Transact(opts, "transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("transferFrom tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("transferFrom reverted: %s", tx.Hash().Hex())
	}
	return nil
}

package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"aethos/services/lending/ledger"
)

var (
	// ErrUnknownContract is returned for calls against an unbound address.
	ErrUnknownContract = errors.New("evm: unknown contract")
	// ErrNoSigner is returned when a transaction is requested without a signer.
	ErrNoSigner = errors.New("evm: signer not configured")
)

const (
	defaultPollInterval = 2 * time.Second
	gasMarginPct        = 20
)

// Backend is the subset of the Ethereum RPC used by the client. An
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// DialBackend initialises an RPC client for the provided endpoint.
func DialBackend(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Config binds the client to the Pool deployment.
type Config struct {
	Pool    common.Address
	Token   common.Address
	ChainID *big.Int
	// Confirmations is the number of blocks, including the inclusion block,
	// a receipt needs before it is reported. Zero and one are equivalent.
	Confirmations uint64
	PollInterval  time.Duration
}

// Client implements ledger.Caller, ledger.BalanceReader and ledger.Executor
// over a JSON-RPC backend.
type Client struct {
	backend   Backend
	signer    Signer
	cfg       Config
	contracts map[common.Address]abi.ABI

	// nonces are serialised so back-to-back steps of one action do not race.
	nonceMu sync.Mutex
}

// NewClient parses the contract descriptions and binds them to their
// deployed addresses. signer may be nil for a read-only client.
func NewClient(backend Backend, signer Signer, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	pool, err := ParseABI(PoolABI)
	if err != nil {
		return nil, err
	}
	token, err := ParseABI(TokenABI)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		contracts: map[common.Address]abi.ABI{
			cfg.Pool:  pool,
			cfg.Token: token,
		},
	}, nil
}

func (c *Client) contract(address common.Address) (abi.ABI, error) {
	parsed, ok := c.contracts[address]
	if !ok || (address == common.Address{}) {
		return abi.ABI{}, fmt.Errorf("%s: %w", address.Hex(), ErrUnknownContract)
	}
	return parsed, nil
}

// Call performs a read-only call and returns the decoded outputs.
func (c *Client) Call(ctx context.Context, contract common.Address, method string, args ...any) ([]any, error) {
	return c.callAt(ctx, nil, contract, method, args...)
}

func (c *Client) callAt(ctx context.Context, block *big.Int, contract common.Address, method string, args ...any) ([]any, error) {
	parsed, err := c.contract(contract)
	if err != nil {
		return nil, err
	}
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: input}
	if c.signer != nil {
		msg.From = c.signer.Address()
	}
	output, err := c.backend.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// BalanceAt returns the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return balance, nil
}

// From returns the signing account, or the zero address without a signer.
func (c *Client) From() common.Address {
	if c == nil || c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// Execute signs and submits a dynamic-fee transaction calling method.
func (c *Client) Execute(ctx context.Context, contract common.Address, method string, value *big.Int, args ...any) (ledger.Tx, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	parsed, err := c.contract(contract)
	if err != nil {
		return nil, err
	}
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	from := c.signer.Address()

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &contract,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      input,
	})
	if err != nil {
		// Estimation runs the call, so a revert surfaces here first.
		return nil, fmt.Errorf("estimate %s: %w", method, err)
	}
	gas += gas * gasMarginPct / 100

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Value:     value,
		Data:      input,
	})
	signed, err := c.signer.SignTx(tx, c.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	return &pendingTx{
		client: c,
		hash:   signed.Hash(),
		msg: ethereum.CallMsg{
			From:  from,
			To:    &contract,
			Value: value,
			Data:  input,
		},
	}, nil
}

package evm

import (
	"context"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"aethos/services/lending/ledger"
)

var (
	poolAddr  = common.HexToAddress("0xdecdae0A5aaCDA856693d1151E64003573BcC8d6")
	tokenAddr = common.HexToAddress("0x73CeF2964375f32fe10E6eD7D971fA43465f8E0D")
	chainID   = big.NewInt(11155111)
)

type rosterLender struct {
	Lender      common.Address
	Amount      *big.Int
	DepositTime *big.Int
}

type rosterBorrower struct {
	Borrower         common.Address
	Collateralamount *big.Int
	AETHBorrowed     *big.Int
}

type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	t       *testing.T
	pool    abi.ABI
	token   abi.ABI
	mu      sync.Mutex
	outputs map[string][]any
	replay  error

	receipts []*gethtypes.Receipt
	heads    []int64
	baseFee  *big.Int
	tip      *big.Int
	gas      uint64
	nonce    uint64
	sent     []*gethtypes.Transaction
	estimate ethereum.CallMsg
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	pool, err := ParseABI(PoolABI)
	require.NoError(t, err)
	token, err := ParseABI(TokenABI)
	require.NoError(t, err)
	return &fakeBackend{
		t:       t,
		pool:    pool,
		token:   token,
		outputs: map[string][]any{},
		heads:   []int64{100},
		baseFee: big.NewInt(10),
		tip:     big.NewInt(2),
		gas:     100_000,
		nonce:   7,
	}
}

func (f *fakeBackend) method(data []byte) *abi.Method {
	if m, err := f.pool.MethodById(data[:4]); err == nil {
		return m
	}
	m, err := f.token.MethodById(data[:4])
	require.NoError(f.t, err)
	return m
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if block != nil && f.replay != nil {
		return nil, f.replay
	}
	m := f.method(msg.Data)
	f.mu.Lock()
	values, ok := f.outputs[m.Name]
	f.mu.Unlock()
	require.True(f.t, ok, "unexpected call %s", m.Name)
	return m.Outputs.Pack(values...)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.heads[0]
	if len(f.heads) > 1 {
		f.heads = f.heads[1:]
	}
	return &gethtypes.Header{Number: big.NewInt(head), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.estimate = msg
	return f.gas, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	next := f.receipts[0]
	if len(f.receipts) > 1 {
		f.receipts = f.receipts[1:]
	}
	if next == nil {
		return nil, ethereum.NotFound
	}
	return next, nil
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(5e17), nil
}

func newTestClient(t *testing.T, backend *fakeBackend, signer Signer, confirmations uint64) *Client {
	t.Helper()
	client, err := NewClient(backend, signer, Config{
		Pool:          poolAddr,
		Token:         tokenAddr,
		ChainID:       chainID,
		Confirmations: confirmations,
		PollInterval:  time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func testSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewKeySigner(key)
	require.NoError(t, err)
	return signer
}

func TestClientFeedsReader(t *testing.T) {
	backend := newFakeBackend(t)
	self := common.HexToAddress("0x9999000000000000000000000000000000001234")
	other := common.HexToAddress("0x1111000000000000000000000000000000005678")
	ether := big.NewInt(1e18)

	backend.outputs["getLenderInfo"] = []any{new(big.Int).Mul(big.NewInt(3), ether), big.NewInt(1_700_000_000)}
	backend.outputs["getTotalLiquidity"] = []any{big.NewInt(10)}
	backend.outputs["getTotalLended"] = []any{big.NewInt(20)}
	backend.outputs["getTotalCollateralETH"] = []any{big.NewInt(30)}
	backend.outputs["getProtocolValue"] = []any{big.NewInt(40)}
	backend.outputs["getLenders"] = []any{[]rosterLender{
		{Lender: self, Amount: big.NewInt(5), DepositTime: big.NewInt(1)},
		{Lender: other, Amount: big.NewInt(6), DepositTime: big.NewInt(2)},
	}}
	backend.outputs["getBorrowers"] = []any{[]rosterBorrower{
		{Borrower: other, Collateralamount: big.NewInt(9), AETHBorrowed: big.NewInt(4)},
	}}
	backend.outputs["HealthofLiquidity"] = []any{true, big.NewInt(180)}

	client := newTestClient(t, backend, nil, 0)
	reader := ledger.NewReader(client, client, ledger.Config{Pool: poolAddr, Token: tokenAddr})
	ctx := context.Background()

	lender, err := reader.FetchSelfLenderPosition(ctx, self)
	require.NoError(t, err)
	require.Equal(t, "3000000000000000000", lender.Deposited.Dec())
	require.Equal(t, uint64(1_700_000_000), lender.DepositTimestamp)

	snap, err := reader.FetchSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "40", snap.ProtocolValue.Dec())
	require.Len(t, snap.Lenders, 2)
	require.Equal(t, other, snap.Lenders[1].Account)
	require.Len(t, snap.Borrowers, 1)
	require.Equal(t, "9", snap.Borrowers[0].Collateral.Dec())
	require.Equal(t, "4", snap.Borrowers[0].Borrowed.Dec())

	health, err := reader.FetchHealth(ctx, self)
	require.NoError(t, err)
	require.True(t, health.AtRisk)
	require.Equal(t, "180", health.Ratio.Dec())

	native, err := reader.FetchNativeBalance(ctx, self)
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", native.Dec())
}

func TestCallUnknownContract(t *testing.T) {
	client := newTestClient(t, newFakeBackend(t), nil, 0)
	_, err := client.Call(context.Background(), common.HexToAddress("0x01"), "getTotalLended")
	require.ErrorIs(t, err, ErrUnknownContract)
}

func TestExecuteBuildsSignedDynamicFeeTx(t *testing.T) {
	backend := newFakeBackend(t)
	signer := testSigner(t)
	backend.receipts = []*gethtypes.Receipt{nil, {Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(101)}}
	client := newTestClient(t, backend, signer, 0)
	require.Equal(t, signer.Address(), client.From())

	value := big.NewInt(1e18)
	tx, err := client.Execute(context.Background(), poolAddr, ledger.MethodBorrow, value)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	sent := backend.sent[0]
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, uint64(120_000), sent.Gas())
	require.Equal(t, int64(22), sent.GasFeeCap().Int64())
	require.Equal(t, int64(2), sent.GasTipCap().Int64())
	require.Equal(t, value, sent.Value())
	require.Equal(t, poolAddr, *sent.To())
	require.Equal(t, signer.Address(), backend.estimate.From)
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), sent)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), from)
	require.Equal(t, sent.Hash(), tx.Hash())

	receipt, err := tx.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, ledger.ReceiptConfirmed, receipt.Status)
	require.Equal(t, uint64(101), receipt.BlockNumber)
}

func TestExecuteRequiresSigner(t *testing.T) {
	client := newTestClient(t, newFakeBackend(t), nil, 0)
	_, err := client.Execute(context.Background(), poolAddr, ledger.MethodWithdraw, nil)
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestWaitReportsRevertReason(t *testing.T) {
	backend := newFakeBackend(t)
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	body, err := abi.Arguments{{Type: strType}}.Pack("Lockup period not over")
	require.NoError(t, err)
	payload := append(common.FromHex("0x08c379a0"), body...)
	backend.replay = revertError{data: common.Bytes2Hex(payload)}
	backend.receipts = []*gethtypes.Receipt{{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(90)}}

	client := newTestClient(t, backend, testSigner(t), 0)
	tx, err := client.Execute(context.Background(), poolAddr, ledger.MethodWithdraw, nil)
	require.NoError(t, err)
	receipt, err := tx.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, ledger.ReceiptFailed, receipt.Status)
	require.Equal(t, "Lockup period not over", receipt.Reason)
}

func TestWaitHonoursConfirmations(t *testing.T) {
	backend := newFakeBackend(t)
	backend.receipts = []*gethtypes.Receipt{{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}}
	client := newTestClient(t, backend, testSigner(t), 3)
	tx, err := client.Execute(context.Background(), poolAddr, ledger.MethodWithdraw, nil)
	require.NoError(t, err)

	// Head advances one block per poll after the header read used for fees.
	backend.mu.Lock()
	backend.heads = []int64{100, 101, 102}
	backend.mu.Unlock()

	receipt, err := tx.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, ledger.ReceiptConfirmed, receipt.Status)
	backend.mu.Lock()
	require.Equal(t, []int64{102}, backend.heads)
	backend.mu.Unlock()
}

func TestWaitStopsOnContext(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, backend, testSigner(t), 0)
	tx, err := client.Execute(context.Background(), poolAddr, ledger.MethodWithdraw, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tx.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type staticPassphrase string

func (p staticPassphrase) Get() (string, error) { return string(p), nil }

func TestKeystoreSigner(t *testing.T) {
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	account, err := ks.ImportECDSA(key, "correct horse")
	require.NoError(t, err)

	signer, err := LoadKeystoreSigner(account.URL.Path, staticPassphrase("correct horse"))
	require.NoError(t, err)
	require.Equal(t, account.Address, signer.Address())

	_, err = LoadKeystoreSigner(account.URL.Path, staticPassphrase("wrong"))
	require.Error(t, err)

	_, err = os.Stat(account.URL.Path)
	require.NoError(t, err)
}

func TestParseKeySigner(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(gethcrypto.FromECDSA(key))
	signer, err := ParseKeySigner(hexKey)
	require.NoError(t, err)
	require.Equal(t, gethcrypto.PubkeyToAddress(key.PublicKey), signer.Address())

	_, err = ParseKeySigner("not-a-key")
	require.Error(t, err)
}

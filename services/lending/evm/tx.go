package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"aethos/services/lending/ledger"
)

type pendingTx struct {
	client *Client
	hash   common.Hash
	msg    ethereum.CallMsg
}

func (t *pendingTx) Hash() common.Hash { return t.hash }

// Wait polls for the receipt until it is mined with enough confirmations or
// ctx ends. Failed receipts carry the revert reason when the node can replay
// the call.
func (t *pendingTx) Wait(ctx context.Context) (ledger.Receipt, error) {
	ticker := time.NewTicker(t.client.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.client.backend.TransactionReceipt(ctx, t.hash)
		switch {
		case err == nil && receipt != nil:
			done, err := t.client.confirmed(ctx, receipt)
			if err != nil {
				return ledger.Receipt{}, err
			}
			if done {
				return t.summarise(ctx, receipt), nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return ledger.Receipt{}, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return ledger.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *pendingTx) summarise(ctx context.Context, receipt *gethtypes.Receipt) ledger.Receipt {
	out := ledger.Receipt{TxHash: t.hash, Status: ledger.ReceiptConfirmed}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == gethtypes.ReceiptStatusSuccessful {
		return out
	}
	out.Status = ledger.ReceiptFailed
	out.Reason = "execution reverted"
	if _, err := t.client.backend.CallContract(ctx, t.msg, receipt.BlockNumber); err != nil {
		out.Reason = revertReason(err)
	}
	return out
}

func (c *Client) confirmed(ctx context.Context, receipt *gethtypes.Receipt) (bool, error) {
	if c.cfg.Confirmations <= 1 {
		return true, nil
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return false, nil
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	return confirmed.Cmp(new(big.Int).SetUint64(c.cfg.Confirmations)) >= 0, nil
}

type dataError interface {
	ErrorData() interface{}
}

// revertReason extracts a human readable reason from a call error, decoding
// Error(string) payloads where the node returns them.
func revertReason(err error) string {
	var de dataError
	if errors.As(err, &de) {
		var payload []byte
		switch data := de.ErrorData().(type) {
		case string:
			payload = common.FromHex(data)
		case []byte:
			payload = data
		}
		if reason, uerr := abi.UnpackRevert(payload); uerr == nil && reason != "" {
			return reason
		}
	}
	return err.Error()
}

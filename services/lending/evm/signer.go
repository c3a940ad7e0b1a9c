package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for a single account.
type Signer interface {
	Address() common.Address
	SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Passphrase resolves the secret protecting a keystore file.
type Passphrase interface {
	Get() (string, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps an already decoded key.
func NewKeySigner(key *ecdsa.PrivateKey) (*KeySigner, error) {
	if key == nil {
		return nil, errors.New("evm: nil private key")
	}
	return &KeySigner{key: key, address: gethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// ParseKeySigner decodes a hex private key, with or without the 0x prefix.
func ParseKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := gethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("evm: decode private key: %w", err)
	}
	return NewKeySigner(key)
}

// LoadKeystoreSigner decrypts an Ethereum v3 keystore file.
func LoadKeystoreSigner(path string, passphrase Passphrase) (*KeySigner, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("evm: empty keystore path")
	}
	if passphrase == nil {
		return nil, errors.New("evm: keystore passphrase source required")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evm: read keystore: %w", err)
	}
	secret, err := passphrase.Get()
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, secret)
	if err != nil {
		return nil, fmt.Errorf("evm: decrypt keystore: %w", err)
	}
	return NewKeySigner(decrypted.PrivateKey)
}

// Address returns the signing account.
func (s *KeySigner) Address() common.Address { return s.address }

// SignTx signs tx for chainID using the latest signer rules.
func (s *KeySigner) SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("evm: chain id required")
	}
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), s.key)
}

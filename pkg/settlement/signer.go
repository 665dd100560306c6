package settlement

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lira-dao/staking-sidecar/pkg/clients/ethereum"
	"github.com/pkg/errors"
)

type SignerConfig struct {
	PrivateKey        string
	ChainId           uint64
	MaxPriorityFeeWei uint64
}

// Signer builds and signs EIP-1559 transactions from the treasury.
type Signer struct {
	key               *ecdsa.PrivateKey
	address           common.Address
	chainId           *big.Int
	maxPriorityFeeWei *big.Int
}

func NewSigner(cfg *SignerConfig) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid treasury private key")
	}
	return &Signer{
		key:               key,
		address:           crypto.PubkeyToAddress(key.PublicKey),
		chainId:           new(big.Int).SetUint64(cfg.ChainId),
		maxPriorityFeeWei: new(big.Int).SetUint64(cfg.MaxPriorityFeeWei),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// UnsignedTx is a call whose gas and fees have been settled but is not yet signed.
type UnsignedTx struct {
	To        common.Address
	Data      []byte
	Gas       uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Estimate fills gas and fees for a call from the treasury. maxFeePerGas is twice the latest base
// fee, raised to the priority fee when the base fee is tiny.
func (s *Signer) Estimate(ctx context.Context, client ChainClient, to common.Address, data []byte) (*UnsignedTx, error) {
	gas, err := client.EstimateGas(ctx, &ethereum.CallMsg{
		From: s.address.Hex(),
		To:   to.Hex(),
		Data: data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate gas")
	}
	block, err := client.GetLatestBlock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch latest block")
	}
	baseFee, err := block.BaseFee()
	if err != nil {
		return nil, err
	}

	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	if feeCap.Cmp(s.maxPriorityFeeWei) < 0 {
		feeCap.Set(s.maxPriorityFeeWei)
	}
	return &UnsignedTx{
		To:        to,
		Data:      data,
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: new(big.Int).Set(s.maxPriorityFeeWei),
	}, nil
}

// Sign fetches the pending nonce and returns the encoded signed transaction with its hash.
func (s *Signer) Sign(ctx context.Context, client ChainClient, utx *UnsignedTx) ([]byte, common.Hash, error) {
	nonce, err := client.GetPendingNonce(ctx, s.address.Hex())
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "failed to fetch pending nonce")
	}
	to := utx.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainId,
		Nonce:     nonce,
		GasTipCap: utx.GasTipCap,
		GasFeeCap: utx.GasFeeCap,
		Gas:       utx.Gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      utx.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainId), s.key)
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "failed to sign transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, errors.Wrap(err, "failed to encode transaction")
	}
	return raw, signed.Hash(), nil
}

package ledger

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
)

// ContractLedger submits entry batches to an on-chain registry contract.
type ContractLedger struct {
	client        *ethclient.Client
	contractAddr  common.Address
	abi           abi.ABI
	privateKey    *ecdsa.PrivateKey
	submitterAddr common.Address
	chainID       *big.Int
	batchSize     int
}

// NewContractLedger dials rpcURL and prepares the signing identity. batchSize
// is the exact array length the contract accepts per call.
func NewContractLedger(rpcURL, contractAddr, privateKeyHex string, chainID int64, batchSize int) (*ContractLedger, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger RPC: %w", err)
	}

	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address: %s", contractAddr)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	registryABI, err := abi.JSON(strings.NewReader(EntryRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to load registry ABI: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 50
	}

	return &ContractLedger{
		client:        client,
		contractAddr:  common.HexToAddress(contractAddr),
		abi:           registryABI,
		privateKey:    privateKey,
		submitterAddr: crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:       big.NewInt(chainID),
		batchSize:     batchSize,
	}, nil
}

func (l *ContractLedger) BatchSize() int { return l.batchSize }

// SubmitBatch packs the fixed-size slot array into one contract call. Padding
// slots become zero-address/zero-usage positions; the contract's own
// validation is what distinguishes them from real entries.
func (l *ContractLedger) SubmitBatch(ctx context.Context, slots []Slot) (*Result, error) {
	if len(slots) != l.batchSize {
		return nil, fmt.Errorf("batch size %d does not match protocol size %d", len(slots), l.batchSize)
	}

	var campaignID [32]byte
	submitters := make([]common.Address, len(slots))
	contentIDs := make([]string, len(slots))
	contentHashes := make([][32]byte, len(slots))
	usageUnits := make([]*big.Int, len(slots))

	for i, slot := range slots {
		if !slot.IsReal() {
			usageUnits[i] = big.NewInt(0)
			continue
		}
		e := slot.Entry
		if campaignID == ([32]byte{}) {
			id := []byte(e.CampaignID)
			if len(id) > 32 {
				id = id[:32]
			}
			copy(campaignID[:], id)
		}
		if common.IsHexAddress(e.Submitter) {
			submitters[i] = common.HexToAddress(e.Submitter)
		}
		contentIDs[i] = e.ContentID
		contentHashes[i] = hashToBytes32(e.ContentHash)
		usageUnits[i] = big.NewInt(e.UsageUnits)
	}

	data, err := l.abi.Pack("submitEntryBatch",
		campaignID,
		submitters,
		contentIDs,
		contentHashes,
		usageUnits)
	if err != nil {
		return nil, fmt.Errorf("failed to pack submitEntryBatch call: %w", err)
	}

	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{
		From: l.submitterAddr,
		To:   &l.contractAddr,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	gasLimit = uint64(float64(gasLimit) * 1.2)

	nonce, err := l.client.PendingNonceAt(ctx, l.submitterAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, l.contractAddr, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(l.chainID), l.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"tx_hash":   signedTx.Hash().Hex(),
		"gas_limit": gasLimit,
		"nonce":     nonce,
	}).Info("submitting entry batch to ledger")

	if err := l.client.SendTransaction(ctx, signedTx); err != nil {
		return &Result{Success: false, Error: err.Error()}, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, l.client, signedTx)
	if err != nil {
		return &Result{
			TransactionID: signedTx.Hash().Hex(),
			Success:       false,
			Error:         err.Error(),
		}, fmt.Errorf("transaction failed: %w", err)
	}

	result := &Result{
		TransactionID: receipt.TxHash.Hex(),
		BlockNumber:   receipt.BlockNumber.Uint64(),
		Success:       receipt.Status == types.ReceiptStatusSuccessful,
	}
	if !result.Success {
		result.Error = "transaction reverted"
	}

	log.WithFields(log.Fields{
		"tx_hash":      result.TransactionID,
		"block_number": result.BlockNumber,
		"success":      result.Success,
	}).Info("entry batch submission finished")

	return result, nil
}

// hashToBytes32 converts a hex-encoded digest into the contract's bytes32
// form. Non-hex input falls back to raw bytes, truncated or zero-padded.
func hashToBytes32(s string) [32]byte {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		raw = []byte(s)
	}
	if len(raw) > 32 {
		raw = raw[:32]
	}
	copy(out[:], raw)
	return out
}

// Close releases the RPC connection.
func (l *ContractLedger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

// EntryRegistryABI is the minimal ABI for the entry registry contract.
const EntryRegistryABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "campaignId", "type": "bytes32"},
			{"internalType": "address[]", "name": "submitters", "type": "address[]"},
			{"internalType": "string[]", "name": "contentIds", "type": "string[]"},
			{"internalType": "bytes32[]", "name": "contentHashes", "type": "bytes32[]"},
			{"internalType": "uint256[]", "name": "usageUnits", "type": "uint256[]"}
		],
		"name": "submitEntryBatch",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

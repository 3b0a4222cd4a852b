// Package registry implements the client for the on-chain name registry:
// read-only owner resolution and rate-constrained batch updates.
package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/jefdiesel/appchain-ens/config"
	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/metrics"
	"github.com/jefdiesel/appchain-ens/oracle"
	"github.com/jefdiesel/appchain-ens/oracle/util"
)

const moduleName = "registry"

// RegistryABI is the interface of the on-chain name registry. Writes are
// restricted to the authorized updater role; unauthorized calls revert
// atomically.
const RegistryABI = `[
	{"type":"function","name":"resolve","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"update","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"updateBatch","stateMutability":"nonpayable","inputs":[{"name":"names","type":"string[]"},{"name":"owners","type":"address[]"}],"outputs":[]}
]`

const (
	// Gas allowance per update transaction: a fixed base plus a per-entry
	// margin, generous enough for string storage writes.
	txGasBase     = uint64(120_000)
	txGasPerEntry = uint64(80_000)

	// How long to wait for a submitted transaction to be included.
	confirmTimeout = 2 * time.Minute

	defaultReceiptPollInterval = 2 * time.Second
)

// Backend is the slice of an Ethereum JSON-RPC client the registry client
// needs. *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account ethCommon.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethCommon.Hash) (*types.Receipt, error)
}

// Client reads cached owners from, and submits corrections to, the name
// registry contract.
type Client struct {
	backend  Backend
	contract ethCommon.Address
	abi      abi.ABI

	key    *ecdsa.PrivateKey
	sender ethCommon.Address
	signer types.Signer

	batchSize           int
	requestTimeout      time.Duration
	receiptPollInterval time.Duration

	retrier *util.Retrier
	logger  *log.Logger
	metrics *metrics.OracleMetrics
}

// NewClient dials the configured JSON-RPC endpoint and creates a registry
// client submitting from the configured updater key.
func NewClient(ctx context.Context, cfg *config.OracleConfig, retrier *util.Retrier, logger *log.Logger, oracleMetrics *metrics.OracleMetrics) (*Client, error) {
	ethClient, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("ethclient DialContext %s: %w", cfg.RPCEndpoint, err)
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain ID: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing updater key: %w", err)
	}

	return NewClientWithBackend(
		ethClient,
		chainID,
		key,
		ethCommon.HexToAddress(cfg.RegistryAddress),
		cfg.EffectiveBatchSize(),
		cfg.RequestTimeout(),
		retrier,
		logger,
		oracleMetrics,
	)
}

// NewClientWithBackend creates a registry client over an explicit backend
// handle, enabling substitution with fakes in tests.
func NewClientWithBackend(
	backend Backend,
	chainID *big.Int,
	key *ecdsa.PrivateKey,
	contract ethCommon.Address,
	batchSize int,
	requestTimeout time.Duration,
	retrier *util.Retrier,
	logger *log.Logger,
	oracleMetrics *metrics.OracleMetrics,
) (*Client, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parsing registry ABI: %w", err)
	}

	return &Client{
		backend:             backend,
		contract:            contract,
		abi:                 parsed,
		key:                 key,
		sender:              crypto.PubkeyToAddress(key.PublicKey),
		signer:              types.LatestSignerForChainID(chainID),
		batchSize:           batchSize,
		requestTimeout:      requestTimeout,
		receiptPollInterval: defaultReceiptPollInterval,
		retrier:             retrier,
		logger:              logger.WithModule(moduleName),
		metrics:             oracleMetrics,
	}, nil
}

// Sender returns the address of the updater account.
func (c *Client) Sender() ethCommon.Address {
	return c.sender
}

// ResolveOwner returns the owner the registry currently records for a name.
// The zero address means unset.
//
// On retry exhaustion the error is swallowed and the zero address is
// returned. This fallback is deliberate: when the cached value cannot be
// read, assuming it is unset makes any live owner from the truth source
// show up as a diff and be re-asserted. Under a cache-read outage this
// causes redundant writes, which is accepted since writes are idempotent.
func (c *Client) ResolveOwner(ctx context.Context, name string) ethCommon.Address {
	data, err := c.abi.Pack("resolve", name)
	if err != nil {
		c.logger.Error("packing resolve call", "name", name, "err", err)
		return ethCommon.Address{}
	}

	out, err := util.WithRetry(ctx, c.retrier, "registry_resolve", func(ctx context.Context) ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return c.backend.CallContract(callCtx, ethereum.CallMsg{
			To:   &c.contract,
			Data: data,
		}, nil)
	})
	if err != nil {
		c.logger.Warn("cached owner unreadable, treating as unset", "name", name, "err", err)
		return ethCommon.Address{}
	}

	results, err := c.abi.Unpack("resolve", out)
	if err != nil || len(results) != 1 {
		c.logger.Warn("malformed resolve result, treating as unset", "name", name, "err", err)
		return ethCommon.Address{}
	}
	return *abi.ConvertType(results[0], new(ethCommon.Address)).(*ethCommon.Address)
}

// Partition splits a diff set into batches of at most `size` entries,
// preserving discovery order.
func Partition(entries []oracle.DiffEntry, size int) [][]oracle.DiffEntry {
	var batches [][]oracle.DiffEntry
	for len(entries) > size {
		batches = append(batches, entries[:size])
		entries = entries[size:]
	}
	if len(entries) > 0 {
		batches = append(batches, entries)
	}
	return batches
}

// SubmitDiffs partitions the diff set into transaction-sized batches and
// submits them one at a time, waiting for inclusion of each. A failed batch
// is logged with its entries and skipped; the divergence it carries is
// re-detected on the next cycle. Every entry is accounted for in the
// returned counts.
func (c *Client) SubmitDiffs(ctx context.Context, entries []oracle.DiffEntry) (submitted, failed int) {
	for _, batch := range Partition(entries, c.batchSize) {
		if err := c.submitBatch(ctx, batch); err != nil {
			c.logger.Error("batch submission failed, will retry next cycle",
				"names", batchNames(batch),
				"err", err,
			)
			if c.metrics != nil {
				c.metrics.SubmissionCounts.WithLabelValues("failure").Inc()
			}
			failed += len(batch)
			continue
		}
		c.logger.Info("batch submitted", "names", batchNames(batch))
		if c.metrics != nil {
			c.metrics.SubmissionCounts.WithLabelValues("success").Inc()
		}
		submitted += len(batch)
	}
	return submitted, failed
}

// submitBatch signs and sends one update transaction and blocks until it is
// mined. A single-entry batch takes the cheaper single-update call shape.
func (c *Client) submitBatch(ctx context.Context, batch []oracle.DiffEntry) error {
	var (
		data []byte
		err  error
	)
	if len(batch) == 1 {
		data, err = c.abi.Pack("update", batch[0].Name, batch[0].Owner)
	} else {
		updateNames := make([]string, len(batch))
		owners := make([]ethCommon.Address, len(batch))
		for i, entry := range batch {
			updateNames[i] = entry.Name
			owners[i] = entry.Owner
		}
		data, err = c.abi.Pack("updateBatch", updateNames, owners)
	}
	if err != nil {
		return fmt.Errorf("packing update call: %w", err)
	}

	nonce, err := util.WithRetry(ctx, c.retrier, "registry_nonce", func(ctx context.Context) (uint64, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return c.backend.PendingNonceAt(callCtx, c.sender)
	})
	if err != nil {
		return fmt.Errorf("fetching nonce: %w", err)
	}
	gasPrice, err := util.WithRetry(ctx, c.retrier, "registry_gas_price", func(ctx context.Context) (*big.Int, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return c.backend.SuggestGasPrice(callCtx)
	})
	if err != nil {
		return fmt.Errorf("fetching gas price: %w", err)
	}

	tx := types.NewTransaction(
		nonce,
		c.contract,
		big.NewInt(0),
		txGasBase+txGasPerEntry*uint64(len(batch)),
		gasPrice,
		data,
	)
	signedTx, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}

	if _, err = util.WithRetry(ctx, c.retrier, "registry_send", func(ctx context.Context) (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
		return struct{}{}, c.backend.SendTransaction(callCtx, signedTx)
	}); err != nil {
		return fmt.Errorf("sending transaction: %w", err)
	}

	receipt, err := c.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return fmt.Errorf("awaiting inclusion of %s: %w", signedTx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", signedTx.Hash())
	}
	return nil
}

// waitMined polls for the transaction receipt until inclusion or the
// confirmation timeout.
func (c *Client) waitMined(ctx context.Context, txHash ethCommon.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("receipt poll failed", "tx", txHash, "err", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.receiptPollInterval):
		}
	}
}

func batchNames(batch []oracle.DiffEntry) []string {
	out := make([]string, len(batch))
	for i, entry := range batch {
		out[i] = entry.Name
	}
	return out
}

package registry_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/jefdiesel/appchain-ens/log"
	"github.com/jefdiesel/appchain-ens/oracle"
	"github.com/jefdiesel/appchain-ens/oracle/registry"
	"github.com/jefdiesel/appchain-ens/oracle/util"
)

var testContract = ethCommon.HexToAddress("0x2222222222222222222222222222222222222222")

// fakeBackend is an in-memory stand-in for an Ethereum JSON-RPC client.
type fakeBackend struct {
	mu  sync.Mutex
	abi abi.ABI

	owners map[string]ethCommon.Address

	// Errors returned by CallContract before it starts succeeding.
	callErrs []error
	// Persistent CallContract error, takes precedence over callErrs.
	callErr error
	// Persistent SendTransaction error.
	sendErr error
	// Overrides receipt status per transaction; defaults to success.
	statusFn func(tx *types.Transaction) uint64

	nonce uint64
	sent  []*types.Transaction
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(registry.RegistryABI))
	require.NoError(t, err)
	return &fakeBackend{
		abi:    parsed,
		owners: make(map[string]ethCommon.Address),
	}
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callErr != nil {
		return nil, b.callErr
	}
	if len(b.callErrs) > 0 {
		err := b.callErrs[0]
		b.callErrs = b.callErrs[1:]
		return nil, err
	}

	method, err := b.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	name := args[0].(string)
	return method.Outputs.Pack(b.owners[name])
}

func (b *fakeBackend) PendingNonceAt(context.Context, ethCommon.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash ethCommon.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.sent {
		if tx.Hash() == txHash {
			status := types.ReceiptStatusSuccessful
			if b.statusFn != nil {
				status = b.statusFn(tx)
			}
			return &types.Receipt{Status: status, TxHash: txHash}, nil
		}
	}
	return nil, ethereum.NotFound
}

// decodeUpdate extracts the (names, owners) pairs carried by an update or
// updateBatch transaction.
func decodeUpdate(t *testing.T, parsed abi.ABI, tx *types.Transaction) ([]string, []ethCommon.Address) {
	data := tx.Data()
	method, err := parsed.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)

	switch method.Name {
	case "update":
		return []string{args[0].(string)}, []ethCommon.Address{args[1].(ethCommon.Address)}
	case "updateBatch":
		return args[0].([]string), args[1].([]ethCommon.Address)
	default:
		t.Fatalf("unexpected method %s", method.Name)
		return nil, nil
	}
}

func newTestClient(t *testing.T, backend *fakeBackend, batchSize int) *registry.Client {
	logger := log.NewDefaultLogger("registry-test")
	retrier := util.NewRetrierWithPolicy(logger, nil, 3, time.Microsecond, 8*time.Microsecond)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := registry.NewClientWithBackend(
		backend,
		big.NewInt(1337),
		key,
		testContract,
		batchSize,
		time.Second,
		retrier,
		logger,
		nil,
	)
	require.NoError(t, err)
	return c
}

func addr(b byte) ethCommon.Address {
	var a ethCommon.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func diffSet(n int) []oracle.DiffEntry {
	entries := make([]oracle.DiffEntry, n)
	for i := range entries {
		entries[i] = oracle.DiffEntry{
			Name:  string(rune('a' + i)),
			Owner: addr(byte(i + 1)),
		}
	}
	return entries
}

func TestPartition(t *testing.T) {
	for _, tc := range []struct {
		m     int
		c     int
		sizes []int
	}{
		{0, 5, nil},
		{1, 5, []int{1}},
		{5, 5, []int{5}},
		{7, 5, []int{5, 2}},
		{12, 5, []int{5, 5, 2}},
		{3, 1, []int{1, 1, 1}},
	} {
		batches := registry.Partition(diffSet(tc.m), tc.c)
		require.Len(t, batches, len(tc.sizes), "m=%d c=%d", tc.m, tc.c)
		covered := 0
		for i, batch := range batches {
			require.Len(t, batch, tc.sizes[i], "m=%d c=%d batch=%d", tc.m, tc.c, i)
			covered += len(batch)
		}
		require.Equal(t, tc.m, covered, "every entry covered exactly once")
	}
}

func TestSubmitDiffsBatching(t *testing.T) {
	backend := newFakeBackend(t)
	c := newTestClient(t, backend, 5)
	entries := diffSet(7)

	submitted, failed := c.SubmitDiffs(context.Background(), entries)
	require.Equal(t, 7, submitted)
	require.Equal(t, 0, failed)
	require.Len(t, backend.sent, 2)

	// Discovery order is preserved across the batch boundary.
	var gotNames []string
	var gotOwners []ethCommon.Address
	for _, tx := range backend.sent {
		n, o := decodeUpdate(t, backend.abi, tx)
		gotNames = append(gotNames, n...)
		gotOwners = append(gotOwners, o...)
	}
	require.Len(t, gotNames, 7)
	for i, entry := range entries {
		require.Equal(t, entry.Name, gotNames[i])
		require.Equal(t, entry.Owner, gotOwners[i])
	}
}

func TestSubmitSingleEntryUsesUpdate(t *testing.T) {
	backend := newFakeBackend(t)
	c := newTestClient(t, backend, 5)

	submitted, failed := c.SubmitDiffs(context.Background(), diffSet(1))
	require.Equal(t, 1, submitted)
	require.Equal(t, 0, failed)
	require.Len(t, backend.sent, 1)

	method, err := backend.abi.MethodById(backend.sent[0].Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "update", method.Name)
}

func TestSubmitMultiEntryUsesUpdateBatch(t *testing.T) {
	backend := newFakeBackend(t)
	c := newTestClient(t, backend, 5)

	c.SubmitDiffs(context.Background(), diffSet(2))
	require.Len(t, backend.sent, 1)

	method, err := backend.abi.MethodById(backend.sent[0].Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "updateBatch", method.Name)
}

func TestSubmitRevertedBatchContinues(t *testing.T) {
	backend := newFakeBackend(t)
	// Revert the first transaction only.
	backend.statusFn = func(tx *types.Transaction) uint64 {
		if tx.Nonce() == 0 {
			return types.ReceiptStatusFailed
		}
		return types.ReceiptStatusSuccessful
	}
	c := newTestClient(t, backend, 5)

	submitted, failed := c.SubmitDiffs(context.Background(), diffSet(7))
	require.Equal(t, 2, submitted)
	require.Equal(t, 5, failed)
	require.Len(t, backend.sent, 2, "a failed batch does not block the next one")
}

func TestSubmitSendFailure(t *testing.T) {
	backend := newFakeBackend(t)
	backend.sendErr = errors.New("insufficient funds for gas")
	c := newTestClient(t, backend, 5)

	submitted, failed := c.SubmitDiffs(context.Background(), diffSet(3))
	require.Equal(t, 0, submitted)
	require.Equal(t, 3, failed)
}

func TestResolveOwner(t *testing.T) {
	backend := newFakeBackend(t)
	backend.owners["alice"] = addr(0xAA)
	c := newTestClient(t, backend, 5)

	require.Equal(t, addr(0xAA), c.ResolveOwner(context.Background(), "alice"))
	require.Equal(t, ethCommon.Address{}, c.ResolveOwner(context.Background(), "unknown"))
}

func TestResolveOwnerRetriesRateLimit(t *testing.T) {
	backend := newFakeBackend(t)
	backend.owners["alice"] = addr(0xAA)
	backend.callErrs = []error{
		errors.New("429 Too Many Requests"),
		errors.New("429 Too Many Requests"),
	}
	c := newTestClient(t, backend, 5)

	require.Equal(t, addr(0xAA), c.ResolveOwner(context.Background(), "alice"))
}

func TestResolveOwnerFallsBackToUnset(t *testing.T) {
	// The documented conservative default: an unreadable cache value is
	// reported as unset so truth gets re-asserted on the next write.
	backend := newFakeBackend(t)
	backend.owners["alice"] = addr(0xAA)
	backend.callErr = errors.New("429 Too Many Requests")
	c := newTestClient(t, backend, 5)

	require.Equal(t, ethCommon.Address{}, c.ResolveOwner(context.Background(), "alice"))
}

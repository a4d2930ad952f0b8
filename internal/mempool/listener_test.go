package mempool

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSwapExtractsAmountAndPath(t *testing.T) {
	sig, ok := matchSwap(selectorFromHex("0x38ed1739"))
	require.True(t, ok)

	path := []common.Address{common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb")}
	packed, err := sig.arguments.Pack(big.NewInt(1_000_000), big.NewInt(1), path, common.HexToAddress("0xcccc"), big.NewInt(9999))
	require.NoError(t, err)

	data := append(selectorFromHex("0x38ed1739")[:], packed...)
	swap, err := decodeSwap(selectorFromHex("0x38ed1739"), data)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), swap.amountIn)
	require.Len(t, swap.tokenPath, 2)
	assert.Equal(t, path[0], swap.tokenPath[0])
	assert.Equal(t, path[1], swap.tokenPath[1])
}

func TestDecodeSwapUnknownSelector(t *testing.T) {
	_, err := decodeSwap([4]byte{0xde, 0xad, 0xbe, 0xef}, []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestMempoolConfidenceClampsAndAdds(t *testing.T) {
	base := mempoolConfidence(50, 100, 0, 0)
	assert.Equal(t, 0.5, base)

	highGas := mempoolConfidence(200, 100, 0, 0)
	assert.InDelta(t, 0.7, highGas, 0.001)

	everything := mempoolConfidence(500, 100, 20_000, 60_000)
	assert.Equal(t, 1.0, everything, "confidence clamps at 1.0 even with every bonus applied")
}

func TestMempoolPriorityDecaysWithAge(t *testing.T) {
	fresh := mempoolPriority(10_000, 0.8, 0)
	stale := mempoolPriority(10_000, 0.8, 30*time.Second)
	assert.Greater(t, fresh, stale, "priority should decay as the signal ages past the 20s window")
}

func TestSortedPairKeyIsOrderIndependent(t *testing.T) {
	a := common.HexToAddress("0xaaaa")
	b := common.HexToAddress("0xbbbb")
	assert.Equal(t, sortedPairKey(a, b), sortedPairKey(b, a))
}

func TestSandwichBucketsTriggersAtThreshold(t *testing.T) {
	b := newSandwichBuckets(30 * time.Second)
	now := time.Now()

	bundle1 := b.record("pair", "tx1", now)
	assert.Len(t, bundle1, 1)

	bundle2 := b.record("pair", "tx2", now.Add(time.Second))
	assert.Len(t, bundle2, 2)

	bundle3 := b.record("pair", "tx3", now.Add(2*time.Second))
	assert.Len(t, bundle3, 3)

	b.reset("pair")
	bundle4 := b.record("pair", "tx4", now.Add(3*time.Second))
	assert.Len(t, bundle4, 1, "reset clears the bucket so the next entry starts a fresh bundle")
}

func TestSandwichBucketsEvictsStaleEntries(t *testing.T) {
	b := newSandwichBuckets(5 * time.Second)
	now := time.Now()

	b.record("pair", "tx1", now)
	bundle := b.record("pair", "tx2", now.Add(10*time.Second))
	assert.Equal(t, []string{"tx2"}, bundle, "tx1 fell outside the rolling window and was evicted")
}

// Package mempool implements the mempool/event listener (C6): it watches
// pending transactions and DEX contract logs over a JSON-RPC websocket
// connection, matches known swap signatures, and applies
// front-running/sandwich heuristics to emit mempool Opportunities.
package mempool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/arbitonlabs/arbiton/internal/config"
	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
)

// assumedETHPriceUSD converts a transaction's ETH value into a rough USD
// figure for the value-based heuristics. The listener has no price-feed
// dependency of its own; this is a coarse stand-in, not a quote.
const assumedETHPriceUSD = 3000.0

// swapSignature describes one recognized Uniswap V2-style router method:
// its 4-byte selector and the ABI types of its arguments, used to
// best-effort decode the trade amount and token path from calldata.
type swapSignature struct {
	name      string
	selector  [4]byte
	arguments abi.Arguments
}

func mustSwapSignature(name string, sigHash string, types ...string) swapSignature {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("mempool: bad abi type %q for %s: %v", t, name, err))
		}
		args = append(args, abi.Argument{Type: ty})
	}
	return swapSignature{name: name, selector: selectorFromHex(sigHash), arguments: args}
}

func selectorFromHex(hexSig string) [4]byte {
	var sel [4]byte
	b := common.FromHex(hexSig)
	copy(sel[:], b)
	return sel
}

// knownSwapSignatures covers the common Uniswap V2 router entrypoints;
// V3's tuple-encoded exactInput/exactInputSingle are recognized by
// selector (for the front-run heuristic) but not decoded for token path.
var knownSwapSignatures = []swapSignature{
	mustSwapSignature("swapExactTokensForTokens", "0x38ed1739", "uint256", "uint256", "address[]", "address", "uint256"),
	mustSwapSignature("swapTokensForExactTokens", "0x8803dbee", "uint256", "uint256", "address[]", "address", "uint256"),
	mustSwapSignature("swapExactETHForTokens", "0x7ff36ab5", "uint256", "address[]", "address", "uint256"),
	mustSwapSignature("swapExactTokensForETH", "0x18cbafe5", "uint256", "uint256", "address[]", "address", "uint256"),
}

var v3OnlySelectors = map[[4]byte]string{
	selectorFromHex("0x414bf389"): "exactInputSingle",
	selectorFromHex("0xc04b8d59"): "exactInput",
}

// decodedSwap is the best-effort result of matching and decoding a
// transaction's calldata against a known swap signature.
type decodedSwap struct {
	method    string
	amountIn  *big.Int
	tokenPath []common.Address
}

// Listener watches pending transactions and DEX logs on one RPC endpoint.
type Listener struct {
	log *slog.Logger
	cfg config.MempoolConfig

	rpcClient *rpc.Client
	ethClient *ethclient.Client
	dexSet    map[common.Address]struct{}

	onOpportunity func(domain.Opportunity)

	buckets *sandwichBuckets
}

// NewListener dials cfg.RPCWSURL and prepares the DEX contract set.
func NewListener(ctx context.Context, cfg config.MempoolConfig, onOpportunity func(domain.Opportunity), log *slog.Logger) (*Listener, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCWSURL)
	if err != nil {
		return nil, fmt.Errorf("mempool: dial %s: %w", cfg.RPCWSURL, err)
	}

	dexSet := make(map[common.Address]struct{}, len(cfg.DEXContracts))
	for _, addr := range cfg.DEXContracts {
		dexSet[common.HexToAddress(addr)] = struct{}{}
	}

	window := cfg.SandwichWindow.Duration
	if window <= 0 {
		window = 30 * time.Second
	}

	return &Listener{
		log:           log.With(slog.String("component", "mempool")),
		cfg:           cfg,
		rpcClient:     rpcClient,
		ethClient:     ethclient.NewClient(rpcClient),
		dexSet:        dexSet,
		onOpportunity: onOpportunity,
		buckets:       newSandwichBuckets(window),
	}, nil
}

// Run subscribes to pending transaction hashes and, where the DEX
// contract set is non-empty, contract logs, until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	pending := make(chan common.Hash, 256)
	sub, err := l.rpcClient.EthSubscribe(ctx, pending, "newPendingTransactions")
	if err != nil {
		return fmt.Errorf("mempool: subscribe pending transactions: %w", err)
	}
	defer sub.Unsubscribe()

	var logsSub ethereum.Subscription
	var logsCh chan types.Log
	if len(l.dexSet) > 0 {
		logsCh = make(chan types.Log, 256)
		addrs := make([]common.Address, 0, len(l.dexSet))
		for a := range l.dexSet {
			addrs = append(addrs, a)
		}
		logsSub, err = l.ethClient.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addrs}, logsCh)
		if err != nil {
			l.log.Warn("mempool: log subscription failed, continuing with pending-tx only", slog.Any("error", err))
		} else {
			defer logsSub.Unsubscribe()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("mempool: pending subscription: %w", err)
		case hash := <-pending:
			l.handlePendingHash(ctx, hash)
		case logEntry, ok := <-logsCh:
			if !ok {
				logsCh = nil
				continue
			}
			l.handleLog(logEntry)
		}
	}
}

func (l *Listener) handlePendingHash(ctx context.Context, hash common.Hash) {
	tx, isPending, err := l.ethClient.TransactionByHash(ctx, hash)
	if err != nil || tx == nil || !isPending {
		return
	}

	to := tx.To()
	selector := selectorOf(tx.Data())

	_, inDexSet := l.dexSet[derefOrZero(to)]
	_, isKnownSwap := matchSwap(selector)
	if !inDexSet && !isKnownSwap {
		return
	}

	gasPriceGwei := weiToGwei(tx.GasPrice())
	valueUSD := weiToETH(tx.Value()) * assumedETHPriceUSD

	swap, _ := decodeSwap(selector, tx.Data())

	if l.isFrontRunSuspicious(gasPriceGwei) {
		l.emitFrontRun(hash, gasPriceGwei, valueUSD, swap)
	}

	if swap != nil && len(swap.tokenPath) >= 2 {
		pairKey := sortedPairKey(swap.tokenPath[0], swap.tokenPath[len(swap.tokenPath)-1])
		if bundle := l.buckets.record(pairKey, hash.Hex(), time.Now()); len(bundle) >= l.sandwichMinTxCount() {
			l.emitSandwich(pairKey, bundle, gasPriceGwei, valueUSD)
			l.buckets.reset(pairKey)
		}
	}
}

func (l *Listener) handleLog(entry types.Log) {
	l.onOpportunity(domain.Opportunity{
		ID:         uuid.NewString(),
		Type:       domain.OpportunityBlockchainEvent,
		Source:     "mempool_logs",
		DetectedAt: time.Now(),
		Urgency:    domain.UrgencyLow,
		Status:     domain.StatusDetected,
		BlockchainEvent: &domain.BlockchainEventPayload{
			Contract: entry.Address.Hex(),
			Block:    entry.BlockNumber,
			TxHash:   entry.TxHash.Hex(),
			Data:     map[string]any{"topics": len(entry.Topics), "log_index": entry.Index},
		},
	})
}

func (l *Listener) isFrontRunSuspicious(gasPriceGwei float64) bool {
	threshold := l.cfg.GasPriceThresholdGwei
	if threshold <= 0 {
		threshold = 100
	}
	return gasPriceGwei > threshold
}

func (l *Listener) sandwichMinTxCount() int {
	if l.cfg.SandwichMinTxCount > 0 {
		return l.cfg.SandwichMinTxCount
	}
	return 3
}

func (l *Listener) emitFrontRun(hash common.Hash, gasPriceGwei, valueUSD float64, swap *decodedSwap) {
	confidence := mempoolConfidence(gasPriceGwei, l.cfg.GasPriceThresholdGwei, valueUSD, swapAmountUSD(swap))
	priority := mempoolPriority(valueUSD, confidence, 0)
	pair := [2]string{}
	if swap != nil && len(swap.tokenPath) >= 2 {
		pair = [2]string{swap.tokenPath[0].Hex(), swap.tokenPath[len(swap.tokenPath)-1].Hex()}
	}

	l.log.Debug("front-run candidate",
		slog.String("tx", hash.Hex()),
		slog.Float64("confidence", confidence),
		slog.Float64("priority", priority),
	)

	l.onOpportunity(domain.Opportunity{
		ID:         uuid.NewString(),
		Type:       domain.OpportunityMEVFrontrun,
		Source:     "mempool",
		DetectedAt: time.Now(),
		Urgency:    urgencyFromConfidence(confidence),
		Status:     domain.StatusDetected,
		Confidence: confidence,
		Mempool: &domain.MempoolPayload{
			TxHash:         hash.Hex(),
			TokenPair:      pair,
			GasPriceGwei:   gasPriceGwei,
			ValueUSD:       valueUSD,
			HasOpportunity: true,
			MEVRisk:        mevRisk(gasPriceGwei, l.cfg.GasPriceThresholdGwei),
		},
	})
}

func (l *Listener) emitSandwich(pairKey string, bundle []string, gasPriceGwei, valueUSD float64) {
	confidence := mempoolConfidence(gasPriceGwei, l.cfg.GasPriceThresholdGwei, valueUSD, 0)
	priority := mempoolPriority(valueUSD, confidence, 0)
	l.log.Info("sandwich bucket triggered",
		slog.String("pair", pairKey),
		slog.Int("bundle_size", len(bundle)),
		slog.Float64("priority", priority),
	)

	l.onOpportunity(domain.Opportunity{
		ID:         uuid.NewString(),
		Type:       domain.OpportunityMEVSandwich,
		Source:     "mempool",
		DetectedAt: time.Now(),
		Urgency:    domain.UrgencyCritical,
		Status:     domain.StatusDetected,
		Confidence: confidence,
		Mempool: &domain.MempoolPayload{
			GasPriceGwei:   gasPriceGwei,
			ValueUSD:       valueUSD,
			HasOpportunity: true,
			MEVRisk:        "high",
			BundleTxHashes: bundle,
		},
	})
}

func urgencyFromConfidence(confidence float64) domain.Urgency {
	switch {
	case confidence >= 0.8:
		return domain.UrgencyCritical
	case confidence >= 0.6:
		return domain.UrgencyHigh
	default:
		return domain.UrgencyMedium
	}
}

func selectorOf(data []byte) [4]byte {
	var sel [4]byte
	if len(data) >= 4 {
		copy(sel[:], data[:4])
	}
	return sel
}

func matchSwap(selector [4]byte) (swapSignature, bool) {
	for _, sig := range knownSwapSignatures {
		if sig.selector == selector {
			return sig, true
		}
	}
	if _, ok := v3OnlySelectors[selector]; ok {
		return swapSignature{name: v3OnlySelectors[selector], selector: selector}, true
	}
	return swapSignature{}, false
}

func decodeSwap(selector [4]byte, data []byte) (*decodedSwap, error) {
	sig, ok := matchSwap(selector)
	if !ok || sig.arguments == nil || len(data) < 4 {
		return nil, fmt.Errorf("mempool: no decodable signature for selector %x", selector)
	}

	values, err := sig.arguments.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("mempool: unpack %s: %w", sig.name, err)
	}

	swap := &decodedSwap{method: sig.name}
	for _, v := range values {
		switch val := v.(type) {
		case *big.Int:
			if swap.amountIn == nil {
				swap.amountIn = val
			}
		case []common.Address:
			swap.tokenPath = val
		}
	}
	return swap, nil
}

func derefOrZero(a *common.Address) common.Address {
	if a == nil {
		return common.Address{}
	}
	return *a
}

func weiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

func weiToETH(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

func swapAmountUSD(swap *decodedSwap) float64 {
	if swap == nil || swap.amountIn == nil {
		return 0
	}
	f := new(big.Float).SetInt(swap.amountIn)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out * assumedETHPriceUSD
}

// mempoolConfidence implements the base-0.5 additive scheme: gas-price and
// value/amount contributions are added on top of a 0.5 base, clamped to
// 1.0.
func mempoolConfidence(gasPriceGwei, gasThreshold, valueUSD, amountUSD float64) float64 {
	confidence := 0.5
	if gasThreshold <= 0 {
		gasThreshold = 100
	}
	switch {
	case gasPriceGwei > gasThreshold*1.5:
		confidence += 0.2
	case gasPriceGwei > gasThreshold:
		confidence += 0.1
	}
	if valueUSD > 10_000 {
		confidence += 0.15
	}
	switch {
	case amountUSD > 50_000:
		confidence += 0.2
	case amountUSD > 10_000:
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// mempoolPriority combines a value term, confidence weight, and a 20s
// linear time-decay.
func mempoolPriority(valueUSD, confidence float64, age time.Duration) float64 {
	valueTerm := valueUSD / 1000
	if valueTerm > 50 {
		valueTerm = 50
	}
	decayWindow := 20 * time.Second
	decay := 1 - float64(age)/float64(decayWindow)
	if decay < 0 {
		decay = 0
	}
	return valueTerm + 30*confidence + decay*20
}

func mevRisk(gasPriceGwei, threshold float64) string {
	if threshold <= 0 {
		threshold = 100
	}
	switch {
	case gasPriceGwei > threshold*1.5:
		return "high"
	case gasPriceGwei > threshold:
		return "medium"
	default:
		return "low"
	}
}

func sortedPairKey(a, b common.Address) string {
	x, y := strings.ToLower(a.Hex()), strings.ToLower(b.Hex())
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// Close releases the underlying RPC connection.
func (l *Listener) Close() error {
	l.rpcClient.Close()
	return nil
}

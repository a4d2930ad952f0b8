// Package sources implements the concrete domain.PriceSource variants
// fanned in by the pricefeed manager (C3): an on-chain oracle contract, an
// HTTP DEX-aggregator quote API, and a centralized-exchange streaming feed.
package sources

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// latestRoundDataABI is the Chainlink-style aggregator read interface
// (latestRoundData() returns roundId, answer, startedAt, updatedAt,
// answeredInRound) shared by most on-chain price oracles this system
// consumes.
const latestRoundDataABI = `[
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

type roundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// OracleSource reads a fixed on-chain price oracle contract via JSON-RPC.
type OracleSource struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	weight   float64
	decimals uint8
}

// NewOracleSource dials rpcURL and prepares calls against the oracle
// contract at contractAddr. It eagerly reads the contract's decimals().
func NewOracleSource(ctx context.Context, rpcURL, contractAddr string, weight float64) (*OracleSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("sources: oracle: dial %s: %w", rpcURL, err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(latestRoundDataABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("sources: oracle: parse abi: %w", err)
	}

	s := &OracleSource{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsedABI,
		weight:   weight,
		decimals: 8,
	}

	if d, err := s.readDecimals(ctx); err == nil {
		s.decimals = d
	}

	return s, nil
}

func (s *OracleSource) readDecimals(ctx context.Context) (uint8, error) {
	data, err := s.abi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := s.call(ctx, data)
	if err != nil {
		return 0, err
	}
	var d uint8
	if err := s.abi.UnpackIntoInterface(&d, "decimals", out); err != nil {
		return 0, err
	}
	return d, nil
}

func (s *OracleSource) call(ctx context.Context, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &s.contract, Data: data}
	return s.client.CallContract(ctx, msg, nil)
}

// Kind identifies this source's variant for logging and scoring.
func (s *OracleSource) Kind() string { return "oracle" }

// Fetch reads the contract's latestRoundData and converts the answer to a
// decimal price point. symbol is carried through unchanged; the oracle
// contract itself is single-asset, so the caller is responsible for
// routing by symbol at configuration time.
func (s *OracleSource) Fetch(ctx context.Context, symbol string) (domain.PricePoint, error) {
	data, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("sources: oracle: pack: %w", err)
	}

	out, err := s.call(ctx, data)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("sources: oracle: call: %w", err)
	}

	var rd roundData
	if err := s.abi.UnpackIntoInterface(&rd, "latestRoundData", out); err != nil {
		return domain.PricePoint{}, fmt.Errorf("sources: oracle: unpack: %w", err)
	}

	price := answerToFloat(rd.Answer, s.decimals)
	updatedAt := time.Unix(rd.UpdatedAt.Int64(), 0)

	return domain.PricePoint{
		Symbol:     symbol,
		SourceID:   s.contract.Hex(),
		Venue:      "onchain_oracle",
		Price:      price,
		Confidence: 1.0,
		Weight:     s.weight,
		ObservedAt: updatedAt,
	}, nil
}

// Subscribe performs one Fetch per symbol and returns, since on-chain oracle
// contracts have no push interface; the pricefeed manager's poll loop calls
// it again after each poll interval, so scheduling is left to the manager.
func (s *OracleSource) Subscribe(ctx context.Context, symbols []string, onPoint func(domain.PricePoint)) error {
	for _, sym := range symbols {
		point, err := s.Fetch(ctx, sym)
		if err != nil {
			return err
		}
		onPoint(point)
	}
	return nil
}

// Close releases the underlying RPC client.
func (s *OracleSource) Close() error {
	s.client.Close()
	return nil
}

func answerToFloat(answer *big.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(answer)
	scale := new(big.Float).SetFloat64(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

func pow10(n uint8) float64 {
	v := 1.0
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

var _ domain.PriceSource = (*OracleSource)(nil)

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// SOLUSDAggregator is the Chainlink SOL/USD aggregator proxy on Ethereum mainnet
const SOLUSDAggregator = "0x4ffC43a60e009B551865A93d232E33Fce9f01507"

const aggregatorABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"latestRoundData","outputs":[
		{"internalType":"uint80","name":"roundId","type":"uint80"},
		{"internalType":"int256","name":"answer","type":"int256"},
		{"internalType":"uint256","name":"startedAt","type":"uint256"},
		{"internalType":"uint256","name":"updatedAt","type":"uint256"},
		{"internalType":"uint80","name":"answeredInRound","type":"uint80"}
	],"stateMutability":"view","type":"function"}
]`

// ChainlinkSource reads prices from a Chainlink aggregator over an EVM RPC endpoint
type ChainlinkSource struct {
	caller   ethereum.ContractCaller
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration

	mu       sync.Mutex
	decimals *uint8
}

// DialChainlink connects to an EVM RPC endpoint and returns an aggregator source
func DialChainlink(ctx context.Context, rpcURL, aggregator string) (*ChainlinkSource, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	return NewChainlinkSource(client, aggregator)
}

// NewChainlinkSource creates an aggregator source over an existing contract caller
func NewChainlinkSource(caller ethereum.ContractCaller, aggregator string) (*ChainlinkSource, error) {
	if aggregator == "" {
		aggregator = SOLUSDAggregator
	}
	if !common.IsHexAddress(aggregator) {
		return nil, fmt.Errorf("invalid aggregator address %q", aggregator)
	}
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &ChainlinkSource{
		caller:   caller,
		contract: common.HexToAddress(aggregator),
		abi:      parsed,
		timeout:  DefaultFetchTimeout,
	}, nil
}

// Name identifies the source in logs
func (s *ChainlinkSource) Name() string {
	return "chainlink"
}

// Fetch returns the aggregator's latest answer
func (s *ChainlinkSource) Fetch(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decimals, err := s.feedDecimals(ctx)
	if err != nil {
		return Sample{}, err
	}

	out, err := s.call(ctx, "latestRoundData")
	if err != nil {
		return Sample{}, err
	}
	if len(out) != 5 {
		return Sample{}, fmt.Errorf("unexpected latestRoundData output length %d", len(out))
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected answer type %T", out[1])
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected updatedAt type %T", out[3])
	}
	if answer.Sign() <= 0 {
		return Sample{}, fmt.Errorf("non-positive answer %s", answer)
	}

	return Sample{
		Price:       decimal.NewFromBigInt(answer, -int32(decimals)),
		PublishTime: time.Unix(updatedAt.Int64(), 0).UTC(),
		Source:      s.Name(),
	}, nil
}

func (s *ChainlinkSource) feedDecimals(ctx context.Context) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.decimals != nil {
		return *s.decimals, nil
	}
	out, err := s.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	s.decimals = &d
	return d, nil
}

func (s *ChainlinkSource) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := s.abi.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	result, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	output, err := s.abi.Methods[method].Outputs.Unpack(result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("no outputs from %s", method)
	}
	return output, nil
}

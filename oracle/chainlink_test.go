package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	t         *testing.T
	source    *ChainlinkSource
	answer    *big.Int
	updatedAt int64
	calls     map[string]int
	err       error
}

func (f *fakeAggregator) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	method, err := f.source.abi.MethodById(msg.Data[:4])
	require.NoError(f.t, err)
	f.calls[method.Name]++

	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(uint8(8))
	case "latestRoundData":
		return method.Outputs.Pack(big.NewInt(1), f.answer, big.NewInt(f.updatedAt), big.NewInt(f.updatedAt), big.NewInt(1))
	}
	return nil, errors.New("unexpected method")
}

func newFakeAggregator(t *testing.T, answer int64) *fakeAggregator {
	fake := &fakeAggregator{t: t, answer: big.NewInt(answer), updatedAt: 1_700_000_000, calls: map[string]int{}}
	source, err := NewChainlinkSource(fake, "")
	require.NoError(t, err)
	fake.source = source
	return fake
}

func TestChainlinkSource_Fetch(t *testing.T) {
	fake := newFakeAggregator(t, 15_012_345_678)

	sample, err := fake.source.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, sample.Price.Equal(decimal.RequireFromString("150.12345678")), "got %s", sample.Price)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), sample.PublishTime)

	_, err = fake.source.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls["decimals"], "decimals should be read once")
	assert.Equal(t, 2, fake.calls["latestRoundData"])
}

func TestChainlinkSource_Errors(t *testing.T) {
	t.Run("non-positive answer", func(t *testing.T) {
		fake := newFakeAggregator(t, 0)
		_, err := fake.source.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("rpc failure", func(t *testing.T) {
		fake := newFakeAggregator(t, 100)
		fake.err = errors.New("dial tcp: connection refused")
		_, err := fake.source.Fetch(context.Background())
		assert.Error(t, err)
	})

	t.Run("invalid aggregator address", func(t *testing.T) {
		_, err := NewChainlinkSource(&fakeAggregator{}, "not-an-address")
		assert.Error(t, err)
	})
}

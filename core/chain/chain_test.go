package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	wei := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		return v
	}
	cases := []struct {
		value    *big.Int
		decimals int
		want     string
	}{
		{nil, 18, "0"},
		{big.NewInt(0), 18, "0"},
		{wei("1500000000000000000"), 18, "1.5"},
		{wei("1000000000000000000"), 18, "1"},
		{wei("1"), 18, "0.000000000000000001"},
		{wei("-250000000"), 8, "-2.5"},
		{wei("42"), 0, "42"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatUnits(tc.value, tc.decimals))
	}
}

func TestNetworkTable(t *testing.T) {
	require.Len(t, All(), 9)

	n, ok := Lookup(" eip155:42161 ")
	require.True(t, ok)
	require.Equal(t, "Arbitrum One", n.Name)
	id, ok := n.ChainID()
	require.True(t, ok)
	require.Equal(t, int64(42161), id.Int64())

	sol, ok := Lookup("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	require.True(t, ok)
	require.False(t, sol.IsEVM())
	_, ok = sol.ChainID()
	require.False(t, ok)

	byChain, ok := LookupChainID(11155111)
	require.True(t, ok)
	require.Equal(t, "eip155:11155111", byChain.ID)

	_, err := Resolve([]string{"eip155:1", "eip155:5"})
	require.Error(t, err)
}

func TestQualifyAndParseAccount(t *testing.T) {
	require.Equal(t, "eip155:1:0xabc", Qualify("eip155:1", "0xabc"))
	require.Empty(t, Qualify("", "0xabc"))
	require.Empty(t, Qualify("eip155:1", " "))

	network, addr, err := ParseAccount("eip155:1:0xabc")
	require.NoError(t, err)
	require.Equal(t, "eip155:1", network)
	require.Equal(t, "0xabc", addr)

	_, _, err = ParseAccount("0xabc")
	require.ErrorIs(t, err, ErrInvalidID)

	ns, ref, err := ParseCAIP2("bip122:000000000019d6689c085ae165831e93")
	require.NoError(t, err)
	require.Equal(t, NamespaceBIP122, ns)
	require.Equal(t, "000000000019d6689c085ae165831e93", ref)
}

type fakeClient struct {
	balance *big.Int
	err     error
	calls   int
	closed  bool
}

func (f *fakeClient) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	f.calls++
	return f.balance, f.err
}

func (f *fakeClient) Close() { f.closed = true }

func TestEthBalancesDialsOncePerNetwork(t *testing.T) {
	cli := &fakeClient{balance: big.NewInt(1_500_000_000_000_000_000)}
	var dialled []string
	b := NewEthBalances(map[string]string{"eip155:1": "http://rpc.local"})
	b.dial = func(_ context.Context, url string) (balanceClient, error) {
		dialled = append(dialled, url)
		return cli, nil
	}

	addr := "0xABCDEF0000000000000000000000000000ABCD00"
	for i := 0; i < 2; i++ {
		bal, err := b.Balance(context.Background(), "eip155:1", addr)
		require.NoError(t, err)
		require.Equal(t, "1.5", bal.Formatted)
		require.Equal(t, "ETH", bal.Symbol)
	}
	require.Equal(t, []string{"http://rpc.local"}, dialled)
	require.Equal(t, 2, cli.calls)

	b.Close()
	require.True(t, cli.closed)
}

func TestEthBalancesErrors(t *testing.T) {
	b := NewEthBalances(nil)
	b.dial = func(context.Context, string) (balanceClient, error) {
		return &fakeClient{err: errors.New("boom")}, nil
	}

	_, err := b.Balance(context.Background(), "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", "abc")
	require.ErrorIs(t, err, ErrUnsupportedNetwork)

	_, err = b.Balance(context.Background(), "eip155:1", "not-an-address")
	require.Error(t, err)

	_, err = b.Balance(context.Background(), "eip155:1", "0xABCDEF0000000000000000000000000000ABCD00")
	require.ErrorContains(t, err, "boom")
}

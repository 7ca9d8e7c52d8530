package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/m3rciful/walletlink/core/logger"
)

// ErrUnsupportedNetwork is returned when balances cannot be read on a network.
var ErrUnsupportedNetwork = errors.New("chain: unsupported network")

const defaultBalanceTimeout = 10 * time.Second

// Balance is a native-asset balance.
type Balance struct {
	Value     *big.Int
	Decimals  int
	Symbol    string
	Formatted string
}

// BalanceReader reads the native balance of an address on a network.
type BalanceReader interface {
	Balance(ctx context.Context, networkID, address string) (Balance, error)
}

type balanceClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// dialFunc opens an RPC client for an endpoint.
type dialFunc func(ctx context.Context, rawURL string) (balanceClient, error)

// EthBalances reads balances over go-ethereum's ethclient, dialling lazily per network.
type EthBalances struct {
	mu      sync.Mutex
	rpc     map[string]string
	clients map[string]balanceClient
	dial    dialFunc
	timeout time.Duration
}

// NewEthBalances builds a reader; overrides maps CAIP-2 ids to RPC URLs.
func NewEthBalances(overrides map[string]string) *EthBalances {
	rpc := make(map[string]string, len(networks))
	for _, n := range networks {
		if n.IsEVM() && n.RPCURL != "" {
			rpc[n.ID] = n.RPCURL
		}
	}
	for id, url := range overrides {
		if url = strings.TrimSpace(url); url != "" {
			rpc[strings.TrimSpace(id)] = url
		}
	}
	return &EthBalances{
		rpc:     rpc,
		clients: make(map[string]balanceClient),
		dial:    dialEth,
		timeout: defaultBalanceTimeout,
	}
}

func dialEth(ctx context.Context, rawURL string) (balanceClient, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// Balance implements BalanceReader.
func (b *EthBalances) Balance(ctx context.Context, networkID, address string) (Balance, error) {
	n, ok := Lookup(networkID)
	if !ok || !n.IsEVM() {
		return Balance{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	if !common.IsHexAddress(address) {
		return Balance{}, fmt.Errorf("chain: invalid address %q", address)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cli, err := b.client(ctx, n.ID)
	if err != nil {
		return Balance{}, err
	}

	start := time.Now()
	wei, err := cli.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		logger.Warn(ctx, "chain", "balance.fail",
			slog.String("network", n.ID),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return Balance{}, fmt.Errorf("chain: balance of %s on %s: %w", address, n.ID, err)
	}
	logger.Debug(ctx, "chain", "balance.ok",
		slog.String("network", n.ID),
		slog.Duration("duration", logger.Took(start)),
	)
	return Balance{
		Value:     wei,
		Decimals:  n.Decimals,
		Symbol:    n.Symbol,
		Formatted: FormatUnits(wei, n.Decimals),
	}, nil
}

func (b *EthBalances) client(ctx context.Context, networkID string) (balanceClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cli, ok := b.clients[networkID]; ok {
		return cli, nil
	}
	url, ok := b.rpc[networkID]
	if !ok {
		return nil, fmt.Errorf("%w: no rpc endpoint for %s", ErrUnsupportedNetwork, networkID)
	}
	cli, err := b.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", networkID, err)
	}
	b.clients[networkID] = cli
	return cli, nil
}

// Close releases all dialled clients.
func (b *EthBalances) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cli := range b.clients {
		cli.Close()
		delete(b.clients, id)
	}
}

// FormatUnits renders value scaled down by decimals, trimming trailing zeros.
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	if decimals <= 0 {
		return value.String()
	}
	neg := value.Sign() < 0
	abs := new(big.Int).Abs(value)
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, base, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		fs := frac.String()
		fs = strings.Repeat("0", decimals-len(fs)) + fs
		out += "." + strings.TrimRight(fs, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

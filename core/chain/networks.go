// Package chain describes the networks a wallet can connect on and reads
// native balances from EVM networks.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Namespace is the CAIP-2 namespace of a network.
type Namespace string

const (
	NamespaceEIP155 Namespace = "eip155"
	NamespaceSolana Namespace = "solana"
	NamespaceBIP122 Namespace = "bip122"
)

// ErrInvalidID is returned for malformed CAIP-2 or CAIP-10 identifiers.
var ErrInvalidID = errors.New("chain: invalid identifier")

// Network is a supported network keyed by its CAIP-2 id.
type Network struct {
	ID        string
	Name      string
	Namespace Namespace
	Reference string
	Symbol    string
	Decimals  int
	RPCURL    string
	Testnet   bool
}

// IsEVM reports whether the network speaks the Ethereum JSON-RPC API.
func (n Network) IsEVM() bool {
	return n.Namespace == NamespaceEIP155
}

// ChainID returns the numeric EVM chain id.
func (n Network) ChainID() (*big.Int, bool) {
	if !n.IsEVM() {
		return nil, false
	}
	id, ok := new(big.Int).SetString(n.Reference, 10)
	return id, ok
}

var networks = []Network{
	{Name: "Ethereum", Namespace: NamespaceEIP155, Reference: "1", Symbol: "ETH", Decimals: 18, RPCURL: "https://cloudflare-eth.com"},
	{Name: "Arbitrum One", Namespace: NamespaceEIP155, Reference: "42161", Symbol: "ETH", Decimals: 18, RPCURL: "https://arb1.arbitrum.io/rpc"},
	{Name: "Sepolia", Namespace: NamespaceEIP155, Reference: "11155111", Symbol: "ETH", Decimals: 18, RPCURL: "https://rpc.sepolia.org", Testnet: true},
	{Name: "Bitcoin", Namespace: NamespaceBIP122, Reference: "000000000019d6689c085ae165831e93", Symbol: "BTC", Decimals: 8},
	{Name: "Solana", Namespace: NamespaceSolana, Reference: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", Symbol: "SOL", Decimals: 9, RPCURL: "https://api.mainnet-beta.solana.com"},
	{Name: "Solana Testnet", Namespace: NamespaceSolana, Reference: "4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z", Symbol: "SOL", Decimals: 9, RPCURL: "https://api.testnet.solana.com", Testnet: true},
	{Name: "Solana Devnet", Namespace: NamespaceSolana, Reference: "EtWTRABZaYq6iMfeYKouRu166VU2xqa1", Symbol: "SOL", Decimals: 9, RPCURL: "https://api.devnet.solana.com", Testnet: true},
	{Name: "Kakarot Starknet Sepolia", Namespace: NamespaceEIP155, Reference: "920637907288165", Symbol: "ETH", Decimals: 18, RPCURL: "https://sepolia-rpc.kakarot.org", Testnet: true},
	{Name: "Arbitrum Sepolia", Namespace: NamespaceEIP155, Reference: "421614", Symbol: "ETH", Decimals: 18, RPCURL: "https://sepolia-rollup.arbitrum.io/rpc", Testnet: true},
}

var byID = func() map[string]Network {
	m := make(map[string]Network, len(networks))
	for i := range networks {
		networks[i].ID = string(networks[i].Namespace) + ":" + networks[i].Reference
		m[networks[i].ID] = networks[i]
	}
	return m
}()

// All returns every known network in display order.
func All() []Network {
	return append([]Network(nil), networks...)
}

// Lookup returns the network registered under the CAIP-2 id.
func Lookup(id string) (Network, bool) {
	n, ok := byID[strings.TrimSpace(id)]
	return n, ok
}

// LookupChainID resolves an EVM chain id to its network.
func LookupChainID(chainID int64) (Network, bool) {
	return Lookup(fmt.Sprintf("%s:%d", NamespaceEIP155, chainID))
}

// Resolve maps configured CAIP-2 ids to networks, failing on the first unknown id.
func Resolve(ids []string) ([]Network, error) {
	out := make([]Network, 0, len(ids))
	for _, id := range ids {
		n, ok := Lookup(id)
		if !ok {
			return nil, fmt.Errorf("chain: unknown network %q", id)
		}
		out = append(out, n)
	}
	return out, nil
}

// ParseCAIP2 splits a CAIP-2 id into namespace and reference.
func ParseCAIP2(id string) (Namespace, string, error) {
	ns, ref, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || ns == "" || ref == "" || strings.Contains(ref, ":") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Namespace(ns), ref, nil
}

// Qualify builds the CAIP-10 account id for address on the given network.
// It returns an empty string when either part is missing.
func Qualify(networkID, address string) string {
	networkID = strings.TrimSpace(networkID)
	address = strings.TrimSpace(address)
	if networkID == "" || address == "" {
		return ""
	}
	return networkID + ":" + address
}

// ParseAccount splits a CAIP-10 account id into its network id and address.
func ParseAccount(caip10 string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(caip10), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, caip10)
	}
	return parts[0] + ":" + parts[1], parts[2], nil
}

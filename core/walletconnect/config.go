package walletconnect

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"net/url"
	"strings"
	"time"

	"github.com/m3rciful/walletlink/core/chain"
	coreconfig "github.com/m3rciful/walletlink/core/config"
)

// Metadata describes the application to the wallet.
type Metadata struct {
	Name        string
	Description string
	URL         string
	Icons       []string
}

// Theme styles the pairing QR code.
type Theme struct {
	Dark   bool
	Accent color.RGBA
}

// Features toggles optional connect behaviour.
type Features struct {
	Analytics           bool
	ConnectMethodsOrder []string
}

// AppConfig is the bootstrap configuration of every provider instance.
type AppConfig struct {
	ProjectID      string
	BridgeURL      string
	Networks       []chain.Network
	Metadata       Metadata
	Theme          Theme
	Features       Features
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
}

// AppConfigFrom converts the normalized configuration section.
func AppConfigFrom(cfg coreconfig.WalletConnectConfig) (AppConfig, error) {
	networks, err := chain.Resolve(cfg.Networks)
	if err != nil {
		return AppConfig{}, err
	}
	if len(networks) == 0 {
		return AppConfig{}, fmt.Errorf("walletconnect: no networks configured")
	}
	accent, err := parseHexColor(cfg.Theme.Accent)
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		ProjectID: cfg.ProjectID,
		BridgeURL: cfg.BridgeURL,
		Networks:  networks,
		Metadata: Metadata{
			Name:        cfg.Metadata.Name,
			Description: cfg.Metadata.Description,
			URL:         cfg.Metadata.URL,
			Icons:       append([]string(nil), cfg.Metadata.Icons...),
		},
		Theme: Theme{
			Dark:   strings.EqualFold(cfg.Theme.Mode, "dark"),
			Accent: accent,
		},
		Features: Features{
			Analytics:           cfg.Features.Analytics,
			ConnectMethodsOrder: append([]string(nil), cfg.Features.ConnectMethodsOrder...),
		},
		ReadTimeout:    time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

// DefaultNetwork is the first configured network.
func (c AppConfig) DefaultNetwork() chain.Network {
	if len(c.Networks) == 0 {
		n, _ := chain.Lookup("eip155:1")
		return n
	}
	return c.Networks[0]
}

// Offers reports whether the network is one of the configured networks.
func (c AppConfig) Offers(networkID string) (chain.Network, bool) {
	for _, n := range c.Networks {
		if n.ID == networkID {
			return n, true
		}
	}
	return chain.Network{}, false
}

// socketURL turns the bridge URL into its websocket endpoint.
func (c AppConfig) socketURL() string {
	u := c.BridgeURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("env", "browser")
	q.Set("protocol", "wc")
	q.Set("version", "1")
	if c.ProjectID != "" {
		q.Set("projectId", c.ProjectID)
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + q.Encode()
}

// pairingURI renders the wc: URI a wallet scans.
func pairingURI(topic, bridgeURL string, key []byte) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s", topic, url.QueryEscape(bridgeURL), hex.EncodeToString(key))
}

func parseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.RGBA{A: 0xff}, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return color.RGBA{}, fmt.Errorf("walletconnect: invalid theme accent %q", s)
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}, nil
}

package walletconnect

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	coreconfig "github.com/m3rciful/walletlink/core/config"
	"github.com/m3rciful/walletlink/core/wallet"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	key, err := randomBytes(32)
	require.NoError(t, err)

	for _, size := range []int{0, 1, 15, 16, 17, 1000} {
		plain := bytes.Repeat([]byte("x"), size)
		env, err := seal(plain, key)
		require.NoError(t, err)
		got, err := open(env, key)
		require.NoError(t, err)
		require.Equal(t, plain, got)
	}
}

func TestEnvelopeRejectsTampering(t *testing.T) {
	key, _ := randomBytes(32)
	other, _ := randomBytes(32)

	env, err := seal([]byte(`{"id":1}`), key)
	require.NoError(t, err)

	_, err = open(env, other)
	require.ErrorIs(t, err, errBadEnvelope)

	bad := env
	bad.Data = strings.Repeat("0", len(env.Data))
	_, err = open(bad, key)
	require.ErrorIs(t, err, errBadEnvelope)

	bad = env
	bad.IV = "zz"
	_, err = open(bad, key)
	require.ErrorIs(t, err, errBadEnvelope)
}

func TestSealJSONOpens(t *testing.T) {
	key, _ := randomBytes(32)
	payload, err := sealJSON(newRequest("personal_sign", "0x00", "0xabc"), key)
	require.NoError(t, err)

	plain, err := openJSON(payload, key)
	require.NoError(t, err)
	doc := gjson.ParseBytes(plain)
	require.Equal(t, "personal_sign", doc.Get("method").String())
	require.Equal(t, "2.0", doc.Get("jsonrpc").String())
	require.Equal(t, "0xabc", doc.Get("params.1").String())
}

func TestUnpadValidation(t *testing.T) {
	_, err := unpad([]byte{1, 2, 3, 0}, 16)
	require.Error(t, err)
	_, err = unpad([]byte{1, 2, 3, 2}, 16)
	require.Error(t, err)
	got, err := unpad([]byte{9, 2, 2}, 16)
	require.NoError(t, err)
	require.Equal(t, []byte{9}, got)
}

func TestRequestIDsIncrease(t *testing.T) {
	a, b := nextID(), nextID()
	require.Greater(t, b, a)
	require.Greater(t, a, int64(1_000_000_000_000_000))
}

func TestURIs(t *testing.T) {
	uri := pairingURI("topic-1", "https://bridge.walletconnect.org", []byte{0xab, 0xcd})
	require.Equal(t, "wc:topic-1@1?bridge=https%3A%2F%2Fbridge.walletconnect.org&key=abcd", uri)

	cfg := AppConfig{BridgeURL: "https://bridge.walletconnect.org", ProjectID: "p1"}
	require.Equal(t, "wss://bridge.walletconnect.org?env=browser&projectId=p1&protocol=wc&version=1", cfg.socketURL())

	cfg = AppConfig{BridgeURL: "http://127.0.0.1:9000/"}
	require.Equal(t, "ws://127.0.0.1:9000/?env=browser&protocol=wc&version=1", cfg.socketURL())
}

func TestAppConfigFrom(t *testing.T) {
	cfg := &coreconfig.Config{Telegram: coreconfig.TelegramConfig{Token: "t"}}
	require.NoError(t, coreconfig.Normalize(cfg))

	app, err := AppConfigFrom(cfg.WalletConnect)
	require.NoError(t, err)
	require.Len(t, app.Networks, 9)
	require.Equal(t, "eip155:1", app.DefaultNetwork().ID)
	require.Equal(t, 300*time.Second, app.ReadTimeout)
	require.Equal(t, uint8(0x24), app.Theme.Accent.R)

	_, ok := app.Offers("eip155:421614")
	require.True(t, ok)

	cfg.WalletConnect.Networks = []string{"eip155:5"}
	_, err = AppConfigFrom(cfg.WalletConnect)
	require.Error(t, err)
}

func TestRPCErrorClassification(t *testing.T) {
	err := rpcError("personal_sign", gjson.Parse(`{"code":4001,"message":"User rejected the request."}`))
	require.ErrorIs(t, err, wallet.ErrRejected)

	err = rpcError("personal_sign", gjson.Parse(`{"code":-32000,"message":"internal"}`))
	require.NotErrorIs(t, err, wallet.ErrRejected)
	require.ErrorContains(t, err, "internal")
}

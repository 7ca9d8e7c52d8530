// Package walletconnect implements the wallet provider over a WalletConnect v1 bridge.
package walletconnect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"

	"github.com/m3rciful/walletlink/core/chain"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/netutil"
	"github.com/m3rciful/walletlink/core/wallet"
)

var (
	// ErrNotPaired is returned for wallet requests without an approved session.
	ErrNotPaired = errors.New("walletconnect: no active session")
	// ErrRejected is returned when the user declines in the wallet.
	ErrRejected = wallet.ErrRejected

	errSessionClosed = errors.New("walletconnect: session closed by wallet")
)

const (
	component = "walletconnect"

	dialAttempts = 3
	dialBackoff  = 500 * time.Millisecond
)

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type dialFunc func(ctx context.Context, rawURL string) (wsConn, error)

func dialWebsocket(ctx context.Context, rawURL string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type rpcReply struct {
	res gjson.Result
	err error
}

// Provider is one wallet connection. It is safe for concurrent use.
type Provider struct {
	cfg      AppConfig
	balances chain.BalanceReader
	dial     dialFunc

	connected atomic.Bool
	writeMu   sync.Mutex

	mu          sync.Mutex
	conn        wsConn
	key         []byte
	clientID    string
	uri         string
	handshakeID int64
	peerID      string
	peer        peerMeta
	accounts    []string
	network     chain.Network
	pending     map[int64]chan rpcReply
	subs        map[int]func(wallet.AccountState)
	nextSub     int
}

// New builds a disconnected provider.
func New(cfg AppConfig, balances chain.BalanceReader) *Provider {
	return &Provider{
		cfg:      cfg,
		balances: balances,
		dial:     dialWebsocket,
		network:  cfg.DefaultNetwork(),
		pending:  make(map[int64]chan rpcReply),
		subs:     make(map[int]func(wallet.AccountState)),
	}
}

// Connect starts pairing and returns the URI and QR code to show the user.
// The approval arrives later through Subscribe. When a session is already
// active, or the view is the network chooser, it returns an empty pairing.
func (p *Provider) Connect(ctx context.Context, view wallet.View) (wallet.Pairing, error) {
	if p.connected.Load() {
		return wallet.Pairing{}, nil
	}
	if view == wallet.ViewNetworks {
		p.event(ctx, "pair",
			slog.String("status", "skipped"),
			slog.String("view", string(view)),
		)
		return wallet.Pairing{}, nil
	}
	if order := p.cfg.Features.ConnectMethodsOrder; len(order) > 0 && !slices.Contains(order, "wallet") {
		return wallet.Pairing{}, fmt.Errorf("walletconnect: wallet connect method disabled")
	}
	p.mu.Lock()
	if p.conn != nil && p.uri != "" {
		uri := p.uri
		p.mu.Unlock()
		return p.pairing(uri)
	}
	network := p.network
	p.mu.Unlock()

	key, err := randomBytes(32)
	if err != nil {
		return wallet.Pairing{}, fmt.Errorf("walletconnect: key: %w", err)
	}
	var conn wsConn
	err = netutil.Do(ctx, dialAttempts, dialBackoff, func(ctx context.Context) error {
		var derr error
		conn, derr = p.dial(ctx, p.cfg.socketURL())
		return derr
	})
	if err != nil {
		logger.Warn(ctx, component, "bridge.dial",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return wallet.Pairing{}, fmt.Errorf("walletconnect: dial bridge: %w", err)
	}

	clientID, topic := uuid.NewString(), uuid.NewString()
	req := newRequest("wc_sessionRequest", sessionRequest{
		PeerID:   clientID,
		PeerMeta: p.meta(),
		ChainID:  evmChainID(network),
	})
	uri := pairingURI(topic, p.cfg.BridgeURL, key)

	p.mu.Lock()
	if p.conn != nil {
		uri = p.uri
		p.mu.Unlock()
		_ = conn.Close()
		return p.pairing(uri)
	}
	p.conn, p.key, p.clientID, p.uri, p.handshakeID = conn, key, clientID, uri, req.ID
	p.mu.Unlock()

	payload, err := sealJSON(req, key)
	if err == nil {
		err = p.write(conn, socketMessage{Topic: clientID, Type: "sub", Silent: true})
	}
	if err == nil {
		err = p.write(conn, socketMessage{Topic: topic, Type: "pub", Payload: payload, Silent: true})
	}
	if err != nil {
		p.drop(ctx, conn, err)
		return wallet.Pairing{}, fmt.Errorf("walletconnect: session request: %w", err)
	}

	go p.readLoop(context.WithoutCancel(ctx), conn)

	p.event(ctx, "pair",
		slog.String("status", "ok"),
		slog.String("view", string(view)),
		slog.String("topic", topic),
		slog.String("network", network.ID),
	)
	return p.pairing(uri)
}

func (p *Provider) pairing(uri string) (wallet.Pairing, error) {
	q, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return wallet.Pairing{}, fmt.Errorf("walletconnect: qr: %w", err)
	}
	q.ForegroundColor = p.cfg.Theme.Accent
	q.BackgroundColor = color.White
	if p.cfg.Theme.Dark {
		q.ForegroundColor = color.White
		q.BackgroundColor = color.RGBA{R: 0x1f, G: 0x1f, B: 0x1f, A: 0xff}
	}
	png, err := q.PNG(256)
	if err != nil {
		return wallet.Pairing{}, fmt.Errorf("walletconnect: qr: %w", err)
	}
	return wallet.Pairing{URI: uri, QR: png}, nil
}

func (p *Provider) meta() peerMeta {
	m := p.cfg.Metadata
	return peerMeta{Description: m.Description, URL: m.URL, Icons: m.Icons, Name: m.Name}
}

// Disconnect ends the session, telling the wallet when one was approved.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	conn, key, peer := p.conn, p.key, p.peerID
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	if p.connected.Load() && peer != "" {
		payload, err := sealJSON(newRequest("wc_sessionUpdate", sessionUpdate{Approved: false}), key)
		if err == nil {
			err = p.write(conn, socketMessage{Topic: peer, Type: "pub", Payload: payload, Silent: true})
		}
		if err != nil {
			logger.Warn(ctx, component, "session.close",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}
	p.drop(ctx, conn, nil)
	return nil
}

// Account returns the current connection state.
func (p *Provider) Account() wallet.AccountState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accountLocked()
}

func (p *Provider) accountLocked() wallet.AccountState {
	st := wallet.AccountState{Network: p.network.ID}
	if !p.connected.Load() || len(p.accounts) == 0 {
		return st
	}
	st.Connected = true
	st.Address = p.accounts[0]
	st.CAIPAddress = chain.Qualify(p.network.ID, st.Address)
	for _, a := range p.accounts {
		st.Accounts = append(st.Accounts, wallet.Account{
			Address:   a,
			Type:      "eoa",
			Namespace: string(p.network.Namespace),
		})
	}
	return st
}

// Balance reads the native balance on the active network.
func (p *Provider) Balance(ctx context.Context, address string) (wallet.Balance, error) {
	if p.balances == nil {
		return wallet.Balance{}, chain.ErrUnsupportedNetwork
	}
	p.mu.Lock()
	network := p.network.ID
	p.mu.Unlock()
	return p.balances.Balance(ctx, network, address)
}

// SignMessage asks for a personal_sign signature and verifies it.
func (p *Provider) SignMessage(ctx context.Context, message, address string) (string, error) {
	res, err := p.call(ctx, "personal_sign", hexutil.Encode([]byte(message)), address)
	if err != nil {
		return "", err
	}
	sig := res.String()
	if err := wallet.VerifyPersonalSignature(message, sig, address); err != nil {
		return "", fmt.Errorf("walletconnect: personal_sign: %w", err)
	}
	return sig, nil
}

// SignTypedData asks for an eth_signTypedData_v4 signature and verifies it.
func (p *Provider) SignTypedData(ctx context.Context, data apitypes.TypedData, address string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("walletconnect: encode typed data: %w", err)
	}
	res, err := p.call(ctx, "eth_signTypedData_v4", address, string(raw))
	if err != nil {
		return "", err
	}
	sig := res.String()
	if err := wallet.VerifyTypedDataSignature(data, sig, address); err != nil {
		return "", fmt.Errorf("walletconnect: eth_signTypedData_v4: %w", err)
	}
	return sig, nil
}

// SwitchNetwork selects a configured network. Before pairing it only sets the
// network requested in the session proposal.
func (p *Provider) SwitchNetwork(ctx context.Context, networkID string) error {
	n, ok := p.cfg.Offers(networkID)
	if !ok {
		return fmt.Errorf("%w: %s", chain.ErrUnsupportedNetwork, networkID)
	}
	if !p.connected.Load() {
		p.mu.Lock()
		p.network = n
		p.mu.Unlock()
		return nil
	}
	id, ok := n.ChainID()
	if !ok {
		return fmt.Errorf("%w: %s", chain.ErrUnsupportedNetwork, networkID)
	}

	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	if _, err := p.call(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": hexutil.EncodeBig(id)}); err != nil {
		return err
	}
	p.mu.Lock()
	p.network = n
	p.mu.Unlock()
	p.notify()
	return nil
}

// Subscribe registers fn for connection changes. fn runs on the transport
// goroutine and must not block.
func (p *Provider) Subscribe(fn func(wallet.AccountState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Provider) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	p.mu.Lock()
	if !p.connected.Load() || p.conn == nil {
		p.mu.Unlock()
		return gjson.Result{}, ErrNotPaired
	}
	conn, key, peer := p.conn, p.key, p.peerID
	req := newRequest(method, params...)
	ch := make(chan rpcReply, 1)
	p.pending[req.ID] = ch
	p.mu.Unlock()

	forget := func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}

	payload, err := sealJSON(req, key)
	if err == nil {
		err = p.write(conn, socketMessage{Topic: peer, Type: "pub", Payload: payload, Silent: strings.HasPrefix(method, "wc_")})
	}
	if err != nil {
		forget()
		return gjson.Result{}, fmt.Errorf("walletconnect: %s: %w", method, err)
	}
	logger.Debug(ctx, component, "rpc.request",
		slog.String("rpc_method", method),
		slog.Int64("rpc_id", req.ID),
	)

	select {
	case r := <-ch:
		if r.err != nil {
			return gjson.Result{}, fmt.Errorf("walletconnect: %s: %w", method, r.err)
		}
		if e := r.res.Get("error"); e.Exists() {
			return gjson.Result{}, rpcError(method, e)
		}
		return r.res.Get("result"), nil
	case <-ctx.Done():
		forget()
		return gjson.Result{}, fmt.Errorf("walletconnect: %s: %w", method, ctx.Err())
	}
}

func rpcError(method string, e gjson.Result) error {
	msg := e.Get("message").String()
	if msg == "" {
		msg = e.String()
	}
	lower := strings.ToLower(msg)
	if e.Get("code").Int() == 4001 || strings.Contains(lower, "reject") || strings.Contains(lower, "denied") {
		return fmt.Errorf("walletconnect: %s: %w: %s", method, ErrRejected, msg)
	}
	return fmt.Errorf("walletconnect: %s: %s", method, msg)
}

func (p *Provider) write(conn wsConn, msg socketMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (p *Provider) readLoop(ctx context.Context, conn wsConn) {
	for {
		var deadline time.Time
		if !p.connected.Load() && p.cfg.ReadTimeout > 0 {
			deadline = time.Now().Add(p.cfg.ReadTimeout)
		}
		_ = conn.SetReadDeadline(deadline)

		typ, data, err := conn.ReadMessage()
		if err != nil {
			p.drop(ctx, conn, err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "pub" {
			continue
		}

		p.mu.Lock()
		current, key, clientID := p.conn == conn, p.key, p.clientID
		p.mu.Unlock()
		if !current {
			return
		}
		if err := p.write(conn, socketMessage{Topic: clientID, Type: "ack", Silent: true}); err != nil {
			p.drop(ctx, conn, err)
			return
		}
		plain, err := openJSON(msg.Payload, key)
		if err != nil {
			logger.Warn(ctx, component, "rpc.receive",
				slog.String("status", "skip"),
				slog.String("err", err.Error()),
			)
			continue
		}
		p.dispatch(ctx, conn, gjson.ParseBytes(plain))
	}
}

func (p *Provider) dispatch(ctx context.Context, conn wsConn, msg gjson.Result) {
	if method := msg.Get("method"); method.Exists() {
		if method.String() == "wc_sessionUpdate" {
			p.onSessionUpdate(ctx, conn, msg.Get("params.0"))
			return
		}
		logger.Debug(ctx, component, "rpc.receive",
			slog.String("status", "skip"),
			slog.String("rpc_method", method.String()),
		)
		return
	}

	id := msg.Get("id").Int()
	p.mu.Lock()
	if p.handshakeID != 0 && id == p.handshakeID {
		p.handshakeID = 0
		p.mu.Unlock()
		p.onSessionResponse(ctx, conn, msg)
		return
	}
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		ch <- rpcReply{res: msg}
	}
}

func (p *Provider) onSessionResponse(ctx context.Context, conn wsConn, msg gjson.Result) {
	res := msg.Get("result")
	if e := msg.Get("error"); e.Exists() || !res.Get("approved").Bool() {
		p.event(ctx, "session.rejected", slog.String("status", "rejected"))
		p.drop(ctx, conn, nil)
		return
	}
	var accounts []string
	for _, a := range res.Get("accounts").Array() {
		if s := strings.TrimSpace(a.String()); s != "" {
			accounts = append(accounts, s)
		}
	}
	if len(accounts) == 0 {
		logger.Warn(ctx, component, "session.approved",
			slog.String("status", "fail"),
			slog.String("err", "no accounts"),
		)
		p.drop(ctx, conn, nil)
		return
	}

	p.mu.Lock()
	p.peerID = res.Get("peerId").String()
	p.peer = peerMeta{
		Name:        res.Get("peerMeta.name").String(),
		Description: res.Get("peerMeta.description").String(),
		URL:         res.Get("peerMeta.url").String(),
	}
	p.accounts = accounts
	if id := res.Get("chainId"); id.Exists() {
		p.network = p.networkFor(id.Int())
	}
	p.uri = ""
	p.connected.Store(true)
	network, peerName := p.network.ID, p.peer.Name
	p.mu.Unlock()

	p.event(ctx, "session.approved",
		slog.String("status", "ok"),
		slog.String("network", network),
		slog.String("peer", peerName),
	)
	p.notify()
}

func (p *Provider) onSessionUpdate(ctx context.Context, conn wsConn, params gjson.Result) {
	if !params.Get("approved").Bool() {
		p.drop(ctx, conn, errSessionClosed)
		return
	}
	p.mu.Lock()
	if accs := params.Get("accounts").Array(); len(accs) > 0 {
		p.accounts = p.accounts[:0]
		for _, a := range accs {
			p.accounts = append(p.accounts, a.String())
		}
	}
	if id := params.Get("chainId"); id.Exists() && id.Type == gjson.Number {
		p.network = p.networkFor(id.Int())
	}
	network := p.network.ID
	p.mu.Unlock()

	logger.Info(ctx, component, "session.update",
		slog.String("status", "ok"),
		slog.String("network", network),
	)
	p.notify()
}

// networkFor maps a wallet chain id onto a known network, falling back to a
// generic EVM entry.
func (p *Provider) networkFor(chainID int64) chain.Network {
	if n, ok := chain.LookupChainID(chainID); ok {
		return n
	}
	ref := fmt.Sprintf("%d", chainID)
	return chain.Network{
		ID:        string(chain.NamespaceEIP155) + ":" + ref,
		Name:      "Chain " + ref,
		Namespace: chain.NamespaceEIP155,
		Reference: ref,
		Symbol:    "ETH",
		Decimals:  18,
	}
}

// drop tears the connection down once and fails pending requests.
func (p *Provider) drop(ctx context.Context, conn wsConn, cause error) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	was := p.connected.Swap(false)
	pending := p.pending
	p.pending = make(map[int64]chan rpcReply)
	p.conn, p.key, p.clientID, p.uri, p.handshakeID = nil, nil, "", "", 0
	p.peerID, p.peer, p.accounts = "", peerMeta{}, nil
	p.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		ch <- rpcReply{err: ErrNotPaired}
	}

	attrs := []slog.Attr{slog.Bool("was_connected", was)}
	if cause != nil {
		attrs = append(attrs, slog.String("err", cause.Error()))
	}
	logger.Info(ctx, component, "session.closed", attrs...)
	if was {
		p.notify()
	}
}

func (p *Provider) notify() {
	p.mu.Lock()
	st := p.accountLocked()
	subs := make([]func(wallet.AccountState), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

// event logs pairing milestones at info level when analytics are enabled.
func (p *Provider) event(ctx context.Context, name string, attrs ...slog.Attr) {
	if p.cfg.Features.Analytics {
		logger.Info(ctx, component, name, attrs...)
		return
	}
	logger.Debug(ctx, component, name, attrs...)
}

func evmChainID(n chain.Network) *int64 {
	id, ok := n.ChainID()
	if !ok || !id.IsInt64() {
		return nil
	}
	v := id.Int64()
	return &v
}

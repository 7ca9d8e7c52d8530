package miniapp

import (
	"fmt"
	"strings"

	"github.com/m3rciful/walletlink/core/chain"
	"github.com/m3rciful/walletlink/core/linkstore"
	"github.com/m3rciful/walletlink/core/telegram/format"
	"github.com/m3rciful/walletlink/core/telegram/keyboard"
	"github.com/m3rciful/walletlink/core/wallet"
	"github.com/m3rciful/walletlink/core/wallet/session"
)

// Callback keys of the screen buttons.
const (
	KeyConnect    = "wl:connect"
	KeyOpen       = "wl:open"
	KeyNetworks   = "wl:networks"
	KeyNetwork    = "wl:net"
	KeySign       = "wl:sign"
	KeyConfirm    = "wl:confirm"
	KeyMain       = "wl:main"
	KeyRefresh    = "wl:refresh"
	KeyDisconnect = "wl:disconnect"
	KeyBack       = "wl:back"
)

// Keys lists every callback key the screen handles.
var Keys = []string{
	KeyConnect, KeyOpen, KeyNetworks, KeyNetwork, KeySign,
	KeyConfirm, KeyMain, KeyRefresh, KeyDisconnect, KeyBack,
}

var actionButtons = map[session.Action]keyboard.InlineBtn{
	session.ActionConnect:    {Text: "🔗 Connect wallet", Unique: KeyConnect},
	session.ActionOpen:       {Text: "👛 Account", Unique: KeyOpen},
	session.ActionNetworks:   {Text: "🌐 Networks", Unique: KeyNetworks},
	session.ActionSign:       {Text: "✍️ Sign message", Unique: KeySign},
	session.ActionConfirm:    {Text: "📨 Send to chat", Unique: KeyConfirm},
	session.ActionRefresh:    {Text: "🔄 Refresh", Unique: KeyRefresh},
	session.ActionDisconnect: {Text: "⏏️ Disconnect", Unique: KeyDisconnect},
}

func esc(s string) string {
	out, _ := format.EscapeMarkdown(s, format.MarkdownV1, "")
	return out
}

func buildView(pg page, p session.Panel, networkID, notice string, networks []chain.Network) View {
	switch pg {
	case pageAccount:
		return accountView(p)
	case pageNetworks:
		return networksView(networkID, networks)
	default:
		return panelView(p, networkID, notice)
	}
}

func panelView(p session.Panel, networkID, notice string) View {
	var b strings.Builder
	b.WriteString("*Wallet*\n\n")
	fmt.Fprintf(&b, "Status: %s\n", esc(p.Status))
	if n, ok := chain.Lookup(networkID); ok {
		fmt.Fprintf(&b, "Network: %s\n", esc(n.Name))
	}
	if p.Connected {
		fmt.Fprintf(&b, "Address: %s\n", format.Code(p.Address))
		balance := p.Balance
		if balance == "" {
			balance = "…"
		}
		fmt.Fprintf(&b, "Balance: %s\n", esc(balance))
	}
	if p.Signature != "" {
		fmt.Fprintf(&b, "Signature: %s\n", format.Code(p.Signature))
	}
	if p.Notice != "" {
		fmt.Fprintf(&b, "\n_%s_", esc(p.Notice))
	}
	if notice != "" {
		fmt.Fprintf(&b, "\n⚠️ %s", esc(notice))
	}

	buttons := make([]keyboard.InlineBtn, 0, len(p.Actions))
	for _, a := range p.Actions {
		if btn, ok := actionButtons[a]; ok {
			buttons = append(buttons, btn)
		}
	}
	return View{Text: strings.TrimRight(b.String(), "\n"), Rows: keyboard.Chunk(buttons, 2)}
}

func accountView(p session.Panel) View {
	var b strings.Builder
	b.WriteString("*Account*\n\n")
	if !p.Connected {
		b.WriteString("No wallet connected.")
	} else {
		fmt.Fprintf(&b, "CAIP-10: %s\n", format.Code(p.CAIPAddress))
		if len(p.Accounts) > 0 {
			b.WriteString("\nAccounts:\n")
			for _, a := range p.Accounts {
				fmt.Fprintf(&b, "• %s", format.Code(a.Address))
				if a.Type != "" {
					fmt.Fprintf(&b, " %s", esc(a.Type))
				}
				b.WriteString("\n")
			}
		}
	}
	return View{
		Text: strings.TrimRight(b.String(), "\n"),
		Rows: [][]keyboard.InlineBtn{{keyboard.BackButton(KeyBack)}},
	}
}

func networksView(current string, networks []chain.Network) View {
	buttons := make([]keyboard.InlineBtn, 0, len(networks))
	for _, n := range networks {
		label := n.Name
		if n.ID == current {
			label = "✓ " + label
		}
		buttons = append(buttons, keyboard.InlineBtn{Text: label, Unique: KeyNetwork, Data: n.ID})
	}
	rows := keyboard.Chunk(buttons, 2)
	rows = append(rows, []keyboard.InlineBtn{keyboard.BackButton(KeyBack)})
	return View{Text: "*Networks*\n\nPick the network to use.", Rows: rows}
}

func formatLinks(links []linkstore.Link) string {
	if len(links) == 0 {
		return "No wallet links yet."
	}
	var b strings.Builder
	b.WriteString("*Wallet links*\n")
	for _, l := range links {
		mark := "✗"
		if l.Verified() {
			mark = "✓"
		}
		fmt.Fprintf(&b, "\n%s %s", mark, format.Code(wallet.Truncate(l.Address)))
		if network, _, err := chain.ParseAccount(l.CAIPAddress); err == nil {
			fmt.Fprintf(&b, " %s", esc(network))
		}
		if l.Balance != "" {
			fmt.Fprintf(&b, " · %s", esc(l.Balance))
		}
		fmt.Fprintf(&b, " · %s · user %d · %s", esc(string(l.Source)), l.UserID, l.ReceivedAt.UTC().Format("2006-01-02 15:04"))
	}
	return b.String()
}

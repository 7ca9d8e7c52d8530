package wallet

import "unicode/utf8"

const ellipsis = "…"

// Truncate shortens an address to its first 6 and last 4 characters.
// Strings of 10 characters or fewer are returned unchanged.
func Truncate(addr string) string {
	if utf8.RuneCountInString(addr) <= 10 {
		return addr
	}
	r := []rune(addr)
	return string(r[:6]) + ellipsis + string(r[len(r)-4:])
}

// SignaturePreview keeps the first 20 characters of a signature.
func SignaturePreview(sig string) string {
	if utf8.RuneCountInString(sig) <= 20 {
		return sig
	}
	return string([]rune(sig)[:20]) + ellipsis
}

// FormatBalance renders an amount with its symbol, e.g. "1.5 ETH".
func FormatBalance(amount, symbol string) string {
	if amount == "" {
		return ""
	}
	if symbol == "" {
		return amount
	}
	return amount + " " + symbol
}

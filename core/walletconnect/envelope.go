package walletconnect

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var errBadEnvelope = errors.New("walletconnect: bad envelope")

// envelope is the encrypted JSON-RPC payload exchanged through the bridge.
type envelope struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func seal(plain, key []byte) (envelope, error) {
	iv, err := randomBytes(aes.BlockSize)
	if err != nil {
		return envelope{}, fmt.Errorf("walletconnect: iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return envelope{}, fmt.Errorf("walletconnect: cipher: %w", err)
	}
	padded := pad(plain, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	return envelope{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(mac(data, iv, key)),
	}, nil
}

func open(env envelope, key []byte) ([]byte, error) {
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", errBadEnvelope, err)
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv", errBadEnvelope)
	}
	sum, err := hex.DecodeString(env.Hmac)
	if err != nil || !hmac.Equal(sum, mac(data, iv, key)) {
		return nil, fmt.Errorf("%w: hmac mismatch", errBadEnvelope)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: data length", errBadEnvelope)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("walletconnect: cipher: %w", err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return unpad(plain, aes.BlockSize)
}

func sealJSON(v any, key []byte) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("walletconnect: encode rpc: %w", err)
	}
	env, err := seal(plain, key)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("walletconnect: encode envelope: %w", err)
	}
	return string(raw), nil
}

func openJSON(payload string, key []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	return open(env, key)
}

func mac(data, iv, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	h.Write(iv)
	return h.Sum(nil)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", errBadEnvelope)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: padding", errBadEnvelope)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: padding", errBadEnvelope)
		}
	}
	return b[:len(b)-n], nil
}

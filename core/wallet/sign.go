package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PlainMessage is the fixed message used for personal_sign.
const PlainMessage = "Hello Reown AppKit!"

// SignMethod selects what the user is asked to sign.
type SignMethod string

const (
	SignTypedData SignMethod = "typed_data"
	SignMessage   SignMethod = "message"
)

var (
	// ErrBadSignature is returned for signatures that cannot be decoded or recovered.
	ErrBadSignature = errors.New("wallet: malformed signature")
	// ErrSignerMismatch is returned when a signature recovers to another address.
	ErrSignerMismatch = errors.New("wallet: signature does not match address")
)

// GardenTypedData returns the fixed EIP-712 payload signed by the screen.
func GardenTypedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Message": {
				{Name: "content", Type: "string"},
			},
		},
		PrimaryType: "Message",
		Domain: apitypes.TypedDataDomain{
			Name:    "Garden",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(1),
		},
		Message: apitypes.TypedDataMessage{
			"content": "Hello Garden",
		},
	}
}

// VerifyPersonalSignature checks that sig is address's personal_sign signature of message.
func VerifyPersonalSignature(message, sig, address string) error {
	return verifyHash(accounts.TextHash([]byte(message)), sig, address)
}

// VerifyTypedDataSignature checks an eth_signTypedData_v4 signature.
func VerifyTypedDataSignature(data apitypes.TypedData, sig, address string) error {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return fmt.Errorf("wallet: hash typed data: %w", err)
	}
	return verifyHash(hash, sig, address)
}

func verifyHash(hash []byte, sigHex, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("wallet: invalid address %q", address)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(sigHex))
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	// Wallets return v as 27/28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(address) {
		return ErrSignerMismatch
	}
	return nil
}

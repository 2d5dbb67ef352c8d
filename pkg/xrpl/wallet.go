package xrpl

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ripemd160"
)

// XRPL uses its own base58 alphabet, so bitcoin-flavoured base58 libraries do
// not apply here.
const xrplAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

var (
	// sEd... family seeds carry this three-byte prefix before the entropy.
	ed25519SeedPrefix = []byte{0x01, 0xe1, 0x4b}
	accountIDPrefix   = byte(0x00)
)

// Wallet holds the follower's signing credentials, derived from a family seed.
type Wallet struct {
	ClassicAddress string
	PublicKey      ed25519.PublicKey
	privateKey     ed25519.PrivateKey
}

// WalletFromSeed derives an ed25519 wallet from an "sEd..." family seed.
// secp256k1 seeds are not supported; the follower account is expected to be
// generated with the ed25519 scheme.
func WalletFromSeed(seed string) (*Wallet, error) {
	payload, err := base58CheckDecode(seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(payload) != len(ed25519SeedPrefix)+16 || !bytes.HasPrefix(payload, ed25519SeedPrefix) {
		return nil, fmt.Errorf("unsupported seed format (expected ed25519 family seed)")
	}
	entropy := payload[len(ed25519SeedPrefix):]

	rawKey := sha512Half(entropy)
	priv := ed25519.NewKeyFromSeed(rawKey)
	pub := priv.Public().(ed25519.PublicKey)

	return &Wallet{
		ClassicAddress: addressFromPublicKey(pub),
		PublicKey:      pub,
		privateKey:     priv,
	}, nil
}

// EncodeSeed renders 16 bytes of entropy as an ed25519 family seed.
func EncodeSeed(entropy []byte) (string, error) {
	if len(entropy) != 16 {
		return "", fmt.Errorf("seed entropy must be 16 bytes")
	}
	payload := append(append([]byte{}, ed25519SeedPrefix...), entropy...)
	return base58CheckEncode(payload), nil
}

// Sign signs a message with the wallet's ed25519 key.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.privateKey, msg)
}

// SigningPubKey returns the 33-byte prefixed public key used in the
// SigningPubKey transaction field.
func (w *Wallet) SigningPubKey() []byte {
	out := make([]byte, 0, 33)
	out = append(out, 0xed)
	return append(out, w.PublicKey...)
}

// AccountID returns the 20-byte account identifier for the wallet.
func (w *Wallet) AccountID() []byte {
	return accountIDFromPublicKey(w.SigningPubKey())
}

func addressFromPublicKey(pub ed25519.PublicKey) string {
	prefixed := append([]byte{0xed}, pub...)
	return EncodeAddress(accountIDFromPublicKey(prefixed))
}

func accountIDFromPublicKey(prefixed []byte) []byte {
	sha := sha256.Sum256(prefixed)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

// EncodeAddress renders a 20-byte account ID as a classic r-address.
func EncodeAddress(accountID []byte) string {
	return base58CheckEncode(append([]byte{accountIDPrefix}, accountID...))
}

// DecodeAddress parses a classic address back to its 20-byte account ID.
func DecodeAddress(addr string) ([]byte, error) {
	payload, err := base58CheckDecode(addr)
	if err != nil {
		return nil, err
	}
	if len(payload) != 21 || payload[0] != accountIDPrefix {
		return nil, fmt.Errorf("not a classic address")
	}
	return payload[1:], nil
}

func sha512Half(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:32]
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func base58CheckEncode(payload []byte) string {
	full := append(append([]byte{}, payload...), checksum(payload)...)
	return base58Encode(full)
}

func base58CheckDecode(s string) ([]byte, error) {
	full, err := base58Decode(s)
	if err != nil {
		return nil, err
	}
	if len(full) < 5 {
		return nil, fmt.Errorf("payload too short")
	}
	payload, check := full[:len(full)-4], full[len(full)-4:]
	if !bytes.Equal(check, checksum(payload)) {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return payload, nil
}

func base58Encode(data []byte) string {
	x := new(big.Int).SetBytes(data)
	base := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append(out, xrplAlphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, xrplAlphabet[0])
	}
	// Reverse.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	x := new(big.Int)
	base := big.NewInt(58)
	for _, c := range s {
		idx := bytes.IndexByte([]byte(xrplAlphabet), byte(c))
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		x.Mul(x, base)
		x.Add(x, big.NewInt(int64(idx)))
	}
	out := x.Bytes()
	for i := 0; i < len(s) && s[i] == xrplAlphabet[0]; i++ {
		out = append([]byte{0}, out...)
	}
	return out, nil
}

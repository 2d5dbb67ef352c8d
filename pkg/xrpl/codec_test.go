package xrpl

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIssuedValueOne(t *testing.T) {
	// "1" is the canonical reference value for the issued-amount format.
	got := encodeIssuedValue(decimal.NewFromInt(1))
	assert.Equal(t, uint64(0xD4838D7EA4C68000), binary.BigEndian.Uint64(got))
}

func TestEncodeIssuedValueZero(t *testing.T) {
	got := encodeIssuedValue(decimal.Zero)
	assert.Equal(t, uint64(0x8000000000000000), binary.BigEndian.Uint64(got))
}

func TestEncodeIssuedValueNormalization(t *testing.T) {
	// 0.1 and 1e-1 must encode identically.
	a := encodeIssuedValue(decimal.RequireFromString("0.1"))
	b := encodeIssuedValue(decimal.New(1, -1))
	assert.Equal(t, a, b)
}

func TestEncodeNativeDrops(t *testing.T) {
	got := encodeNativeDrops(1_000_000)
	assert.Equal(t, uint64(0x4000000000000000|1_000_000), binary.BigEndian.Uint64(got))
}

func TestEncodeCurrency(t *testing.T) {
	out, err := encodeCurrency("USD")
	require.NoError(t, err)
	require.Len(t, out, 20)
	assert.True(t, bytes.Equal(out[:12], make([]byte, 12)))
	assert.Equal(t, []byte("USD"), out[12:15])

	hexCode := strings.Repeat("AB", 20)
	out, err = encodeCurrency(hexCode)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), out[0])

	_, err = encodeCurrency("TOOLONG")
	assert.Error(t, err)
}

func TestFieldIDEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x12}, encodeFieldID(fTransactionType))
	assert.Equal(t, []byte{0x81}, encodeFieldID(fAccount))
	// LastLedgerSequence has field code 27, above the single-byte range.
	assert.Equal(t, []byte{0x20, 27}, encodeFieldID(fLastLedgerSequence))
}

func TestSerializeCanonicalOrder(t *testing.T) {
	fields := []txField{
		{fAccount, []byte{0x01}},
		{fTransactionType, []byte{0x02}},
		{fSequence, []byte{0x03}},
	}
	out := serialize(fields)
	// TransactionType (1,2) before Sequence (2,4) before Account (8,1).
	assert.Equal(t, []byte{0x12, 0x02, 0x24, 0x03, 0x81, 0x01}, out)
}

func TestSignTrustSet(t *testing.T) {
	w, err := WalletFromSeed(testSeed(bytes.Repeat([]byte{0x11}, 16)))
	require.NoError(t, err)

	tx := &TrustSetTx{
		Account:  w.ClassicAddress,
		Sequence: 42,
		Fee:      12,
		LimitAmount: IssuedAmount(
			TokenID{Currency: "MEM", Issuer: EncodeAddress(bytes.Repeat([]byte{0x22}, 20))},
			decimal.NewFromInt(5000),
		),
	}

	blob, hash, err := SignTrustSet(tx, w)
	require.NoError(t, err)

	require.Len(t, hash, 64)
	assert.Equal(t, strings.ToUpper(hash), hash)

	raw, err := hex.DecodeString(blob)
	require.NoError(t, err)
	// Starts with TransactionType = TrustSet (20).
	assert.Equal(t, []byte{0x12, 0x00, 0x14}, raw[:3])

	// Deterministic for the same inputs (ed25519 signatures are).
	blob2, hash2, err := SignTrustSet(tx, w)
	require.NoError(t, err)
	assert.Equal(t, blob, blob2)
	assert.Equal(t, hash, hash2)
}

func TestSignPayment(t *testing.T) {
	w, err := WalletFromSeed(testSeed(bytes.Repeat([]byte{0x44}, 16)))
	require.NoError(t, err)

	sendMax := NativeAmount(85_000_000)
	tx := &PaymentTx{
		Account:     w.ClassicAddress,
		Destination: w.ClassicAddress,
		Sequence:    7,
		Fee:         12,
		Amount: IssuedAmount(
			TokenID{Currency: "MEM", Issuer: EncodeAddress(bytes.Repeat([]byte{0x55}, 20))},
			decimal.NewFromInt(1),
		),
		SendMax: &sendMax,
	}

	blob, hash, err := SignPayment(tx, w)
	require.NoError(t, err)
	require.Len(t, hash, 64)

	raw, err := hex.DecodeString(blob)
	require.NoError(t, err)
	// Starts with TransactionType = Payment (0).
	assert.Equal(t, []byte{0x12, 0x00, 0x00}, raw[:3])
}

func TestSignRejectsBadAddresses(t *testing.T) {
	w, err := WalletFromSeed(testSeed(bytes.Repeat([]byte{0x66}, 16)))
	require.NoError(t, err)

	tx := &TrustSetTx{
		Account:     "not-an-address",
		LimitAmount: IssuedAmount(TokenID{Currency: "MEM", Issuer: w.ClassicAddress}, decimal.NewFromInt(1)),
	}
	_, _, err = SignTrustSet(tx, w)
	assert.Error(t, err)
}

package xrpl

import (
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Minimal canonical binary codec for the transactions the follower submits
// (TrustSet and Payment). Field and type codes follow the ledger's binary
// format definitions.

const (
	txTypePayment  = 0
	txTypeTrustSet = 20

	tfFullyCanonicalSig = 0x80000000

	signingPrefix = 0x53545800 // "STX\0"
	txIDPrefix    = 0x54584e00 // "TXN\0"
)

type fieldID struct {
	typeCode  int
	fieldCode int
}

var (
	fTransactionType    = fieldID{1, 2}
	fFlags              = fieldID{2, 2}
	fSequence           = fieldID{2, 4}
	fLastLedgerSequence = fieldID{2, 27}
	fAmount             = fieldID{6, 1}
	fLimitAmount        = fieldID{6, 3}
	fFee                = fieldID{6, 8}
	fSendMax            = fieldID{6, 9}
	fSigningPubKey      = fieldID{7, 3}
	fTxnSignature       = fieldID{7, 4}
	fAccount            = fieldID{8, 1}
	fDestination        = fieldID{8, 3}
)

type txField struct {
	id    fieldID
	value []byte
}

// TxAmount is either native (drops) or an issued token amount.
type TxAmount struct {
	Drops    int64
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

func NativeAmount(drops int64) TxAmount {
	return TxAmount{Drops: drops}
}

func IssuedAmount(token TokenID, value decimal.Decimal) TxAmount {
	return TxAmount{Currency: token.Currency, Issuer: token.Issuer, Value: value}
}

func (a TxAmount) native() bool { return a.Currency == "" }

// TrustSetTx is the follower's mirrored trust-line transaction.
type TrustSetTx struct {
	Account            string
	Sequence           uint32
	LastLedgerSequence uint32
	Fee                int64
	LimitAmount        TxAmount
}

// PaymentTx is the optional post-trust-line purchase.
type PaymentTx struct {
	Account            string
	Destination        string
	Sequence           uint32
	LastLedgerSequence uint32
	Fee                int64
	Amount             TxAmount
	SendMax            *TxAmount
}

// SignTrustSet serializes and signs a TrustSet, returning the hex blob for
// submit and the transaction hash used to poll for validation.
func SignTrustSet(tx *TrustSetTx, w *Wallet) (blob string, hash string, err error) {
	fields, err := trustSetFields(tx, w)
	if err != nil {
		return "", "", err
	}
	return signFields(fields, w)
}

// SignPayment serializes and signs a Payment.
func SignPayment(tx *PaymentTx, w *Wallet) (blob string, hash string, err error) {
	fields, err := paymentFields(tx, w)
	if err != nil {
		return "", "", err
	}
	return signFields(fields, w)
}

func trustSetFields(tx *TrustSetTx, w *Wallet) ([]txField, error) {
	account, err := DecodeAddress(tx.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	limit, err := encodeAmount(tx.LimitAmount)
	if err != nil {
		return nil, fmt.Errorf("limit amount: %w", err)
	}
	fields := []txField{
		{fTransactionType, encodeUint16(txTypeTrustSet)},
		{fFlags, encodeUint32(tfFullyCanonicalSig)},
		{fSequence, encodeUint32(tx.Sequence)},
		{fLimitAmount, limit},
		{fFee, encodeNativeDrops(tx.Fee)},
		{fSigningPubKey, encodeVL(w.SigningPubKey())},
		{fAccount, encodeVL(account)},
	}
	if tx.LastLedgerSequence > 0 {
		fields = append(fields, txField{fLastLedgerSequence, encodeUint32(tx.LastLedgerSequence)})
	}
	return fields, nil
}

func paymentFields(tx *PaymentTx, w *Wallet) ([]txField, error) {
	account, err := DecodeAddress(tx.Account)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	dest, err := DecodeAddress(tx.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	amt, err := encodeAmount(tx.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	fields := []txField{
		{fTransactionType, encodeUint16(txTypePayment)},
		{fFlags, encodeUint32(tfFullyCanonicalSig)},
		{fSequence, encodeUint32(tx.Sequence)},
		{fAmount, amt},
		{fFee, encodeNativeDrops(tx.Fee)},
		{fSigningPubKey, encodeVL(w.SigningPubKey())},
		{fAccount, encodeVL(account)},
		{fDestination, encodeVL(dest)},
	}
	if tx.SendMax != nil {
		sm, err := encodeAmount(*tx.SendMax)
		if err != nil {
			return nil, fmt.Errorf("send max: %w", err)
		}
		fields = append(fields, txField{fSendMax, sm})
	}
	if tx.LastLedgerSequence > 0 {
		fields = append(fields, txField{fLastLedgerSequence, encodeUint32(tx.LastLedgerSequence)})
	}
	return fields, nil
}

func signFields(fields []txField, w *Wallet) (string, string, error) {
	unsigned := serialize(fields)

	msg := make([]byte, 0, 4+len(unsigned))
	msg = binary.BigEndian.AppendUint32(msg, signingPrefix)
	msg = append(msg, unsigned...)
	sig := w.Sign(msg)

	fields = append(fields, txField{fTxnSignature, encodeVL(sig)})
	signed := serialize(fields)

	idMsg := make([]byte, 0, 4+len(signed))
	idMsg = binary.BigEndian.AppendUint32(idMsg, txIDPrefix)
	idMsg = append(idMsg, signed...)
	sum := sha512.Sum512(idMsg)

	return strings.ToUpper(hex.EncodeToString(signed)),
		strings.ToUpper(hex.EncodeToString(sum[:32])), nil
}

// serialize emits fields in canonical order: ascending type code, then
// ascending field code.
func serialize(fields []txField) []byte {
	sorted := make([]txField, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].id.typeCode != sorted[j].id.typeCode {
			return sorted[i].id.typeCode < sorted[j].id.typeCode
		}
		return sorted[i].id.fieldCode < sorted[j].id.fieldCode
	})

	var out []byte
	for _, f := range sorted {
		out = append(out, encodeFieldID(f.id)...)
		out = append(out, f.value...)
	}
	return out
}

func encodeFieldID(id fieldID) []byte {
	switch {
	case id.typeCode < 16 && id.fieldCode < 16:
		return []byte{byte(id.typeCode<<4 | id.fieldCode)}
	case id.typeCode < 16:
		return []byte{byte(id.typeCode << 4), byte(id.fieldCode)}
	case id.fieldCode < 16:
		return []byte{byte(id.fieldCode), byte(id.typeCode)}
	default:
		return []byte{0, byte(id.typeCode), byte(id.fieldCode)}
	}
}

func encodeUint16(v uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, v)
}

func encodeUint32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// encodeVL prefixes a blob with its variable-length marker. All blobs used
// here are well under the 193-byte single-byte boundary.
func encodeVL(data []byte) []byte {
	if len(data) > 192 {
		panic("vl blob too long for single-byte length")
	}
	return append([]byte{byte(len(data))}, data...)
}

func encodeNativeDrops(drops int64) []byte {
	v := uint64(drops) | 0x4000000000000000 // positive native amount
	return binary.BigEndian.AppendUint64(nil, v)
}

func encodeAmount(a TxAmount) ([]byte, error) {
	if a.native() {
		return encodeNativeDrops(a.Drops), nil
	}

	out := make([]byte, 0, 48)
	out = append(out, encodeIssuedValue(a.Value)...)

	cur, err := encodeCurrency(a.Currency)
	if err != nil {
		return nil, err
	}
	out = append(out, cur...)

	issuer, err := DecodeAddress(a.Issuer)
	if err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}
	return append(out, issuer...), nil
}

// encodeIssuedValue packs a decimal into the ledger's 64-bit issued-amount
// format: not-XRP bit, sign bit, 8-bit offset exponent, 54-bit mantissa
// normalized to [1e15, 1e16).
func encodeIssuedValue(v decimal.Decimal) []byte {
	if v.IsZero() {
		return binary.BigEndian.AppendUint64(nil, 0x8000000000000000)
	}

	m := new(big.Int).Abs(v.Coefficient())
	exp := int(v.Exponent())

	bigTen := big.NewInt(10)
	minMantissa := new(big.Int).Exp(bigTen, big.NewInt(15), nil)
	maxMantissa := new(big.Int).Exp(bigTen, big.NewInt(16), nil)

	for m.Cmp(minMantissa) < 0 {
		m.Mul(m, bigTen)
		exp--
	}
	for m.Cmp(maxMantissa) >= 0 {
		m.Div(m, bigTen)
		exp++
	}

	bits := uint64(0x8000000000000000)      // not XRP
	bits |= uint64(0x4000000000000000)      // positive
	bits |= uint64(exp+97) << 54            // offset exponent
	bits |= m.Uint64() & 0x003fffffffffffff // mantissa

	return binary.BigEndian.AppendUint64(nil, bits)
}

func encodeCurrency(code string) ([]byte, error) {
	out := make([]byte, 20)
	switch {
	case len(code) == 3:
		copy(out[12:], code)
		return out, nil
	case len(code) == 40:
		raw, err := hex.DecodeString(code)
		if err != nil {
			return nil, fmt.Errorf("currency hex: %w", err)
		}
		copy(out, raw)
		return out, nil
	default:
		return nil, fmt.Errorf("currency code must be 3 chars or 40 hex digits")
	}
}

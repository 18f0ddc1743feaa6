// Package record decodes and encodes the fixed-width records the pool daemon
// keeps in its LMDB environment. Layouts are little-endian and match the
// daemon's share_t, payment_t and block_t structs on 64-bit platforms.
// Everything here is pure; no I/O.
package record

import (
	"fmt"
)

// Encoded sizes.
const (
	ShareSize     = 152
	PaymentSize   = 144
	BlockSize     = 168
	BalanceSize   = 8
	HeightKeySize = 8
)

// Kind names one of the four record shapes.
type Kind int

const (
	KindShare Kind = iota
	KindPayment
	KindBlock
	KindBalance
)

func (k Kind) String() string {
	switch k {
	case KindShare:
		return "share"
	case KindPayment:
		return "payment"
	case KindBlock:
		return "block"
	case KindBalance:
		return "balance"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BlockStatus mirrors the daemon's block_status enum.
type BlockStatus uint32

const (
	StatusLocked   BlockStatus = 0
	StatusUnlocked BlockStatus = 1
	StatusOrphaned BlockStatus = 2
)

func (s BlockStatus) String() string {
	switch s {
	case StatusLocked:
		return "LOCKED"
	case StatusUnlocked:
		return "UNLOCKED"
	case StatusOrphaned:
		return "ORPHANED"
	default:
		return "UNKNOWN"
	}
}

// Record is any decoded value.
type Record interface {
	Kind() Kind
}

// Share is one accepted share. The shares table keeps many per height.
type Share struct {
	Height     uint64
	Difficulty uint64
	Address    string
	Timestamp  int64
}

// Payment is one payout to a miner.
type Payment struct {
	Amount    Amount
	Timestamp int64
	Address   string
}

// Block is a block found by the pool, keyed by height.
type Block struct {
	Height     uint64
	Hash       string
	PrevHash   string
	Difficulty uint64
	Status     BlockStatus
	Reward     Amount
	Timestamp  int64
}

// Balance is a miner's unpaid balance. Address comes from the key.
type Balance struct {
	Address string
	Amount  Amount
}

func (Share) Kind() Kind   { return KindShare }
func (Payment) Kind() Kind { return KindPayment }
func (Block) Kind() Kind   { return KindBlock }
func (Balance) Kind() Kind { return KindBalance }

// DecodeError reports a value that does not match its fixed layout. Callers
// skip the record and keep scanning.
type DecodeError struct {
	Kind   Kind
	Size   int
	Want   int
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: field %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s (%d bytes, want %d)", e.Kind, e.Reason, e.Size, e.Want)
}

// Decode interprets raw as a value of the given kind. For KindBalance only
// the amount is decoded; use DecodeBalance to include the address key.
func Decode(kind Kind, raw []byte) (Record, error) {
	switch kind {
	case KindShare:
		return DecodeShare(raw)
	case KindPayment:
		return DecodePayment(raw)
	case KindBlock:
		return DecodeBlock(raw)
	case KindBalance:
		amount, err := DecodeAmount(raw)
		if err != nil {
			return nil, err
		}
		return Balance{Amount: amount}, nil
	default:
		return nil, &DecodeError{Kind: kind, Size: len(raw), Reason: "unknown record kind"}
	}
}

// DecodeShare decodes a 152-byte share value.
func DecodeShare(raw []byte) (Share, error) {
	l := shareLayout
	if err := l.check(raw); err != nil {
		return Share{}, err
	}
	addr, err := l.text(raw, shareAddress)
	if err != nil {
		return Share{}, err
	}
	return Share{
		Height:     l.uint64(raw, shareHeight),
		Difficulty: l.uint64(raw, shareDifficulty),
		Address:    addr,
		Timestamp:  l.int64(raw, shareTimestamp),
	}, nil
}

// DecodePayment decodes a 144-byte payment value.
func DecodePayment(raw []byte) (Payment, error) {
	l := paymentLayout
	if err := l.check(raw); err != nil {
		return Payment{}, err
	}
	addr, err := l.text(raw, paymentAddress)
	if err != nil {
		return Payment{}, err
	}
	return Payment{
		Amount:    Amount(l.uint64(raw, paymentAmount)),
		Timestamp: l.int64(raw, paymentTimestamp),
		Address:   addr,
	}, nil
}

// DecodeBlock decodes a 168-byte block value.
func DecodeBlock(raw []byte) (Block, error) {
	l := blockLayout
	if err := l.check(raw); err != nil {
		return Block{}, err
	}
	hash, err := l.text(raw, blockHash)
	if err != nil {
		return Block{}, err
	}
	prev, err := l.text(raw, blockPrevHash)
	if err != nil {
		return Block{}, err
	}
	return Block{
		Height:     l.uint64(raw, blockHeight),
		Hash:       hash,
		PrevHash:   prev,
		Difficulty: l.uint64(raw, blockDifficulty),
		Status:     BlockStatus(l.uint32(raw, blockStatus)),
		Reward:     Amount(l.uint64(raw, blockReward)),
		Timestamp:  l.int64(raw, blockTimestamp),
	}, nil
}

// DecodeAmount decodes an 8-byte balance value.
func DecodeAmount(raw []byte) (Amount, error) {
	if err := balanceLayout.check(raw); err != nil {
		return 0, err
	}
	return Amount(balanceLayout.uint64(raw, 0)), nil
}

// DecodeAddressKey decodes a 128-byte zero-padded address key.
func DecodeAddressKey(key []byte) (string, error) {
	if err := addressKeyLayout.check(key); err != nil {
		return "", err
	}
	return addressKeyLayout.text(key, 0)
}

// DecodeBalance decodes a balance table entry.
func DecodeBalance(key, value []byte) (Balance, error) {
	addr, err := DecodeAddressKey(key)
	if err != nil {
		return Balance{}, err
	}
	amount, err := DecodeAmount(value)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Address: addr, Amount: amount}, nil
}

// DecodeHeightKey decodes the 8-byte integer key of the shares and blocks tables.
func DecodeHeightKey(key []byte) (uint64, error) {
	if err := heightKeyLayout.check(key); err != nil {
		return 0, err
	}
	return heightKeyLayout.uint64(key, 0), nil
}

// EncodeShare is the inverse of DecodeShare.
func EncodeShare(s Share) ([]byte, error) {
	l := shareLayout
	buf := make([]byte, l.size)
	l.putUint64(buf, shareHeight, s.Height)
	l.putUint64(buf, shareDifficulty, s.Difficulty)
	if err := l.putText(buf, shareAddress, s.Address); err != nil {
		return nil, err
	}
	l.putUint64(buf, shareTimestamp, uint64(s.Timestamp))
	return buf, nil
}

// EncodePayment is the inverse of DecodePayment.
func EncodePayment(p Payment) ([]byte, error) {
	l := paymentLayout
	buf := make([]byte, l.size)
	l.putUint64(buf, paymentAmount, uint64(p.Amount))
	l.putUint64(buf, paymentTimestamp, uint64(p.Timestamp))
	if err := l.putText(buf, paymentAddress, p.Address); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeBlock is the inverse of DecodeBlock.
func EncodeBlock(b Block) ([]byte, error) {
	l := blockLayout
	buf := make([]byte, l.size)
	l.putUint64(buf, blockHeight, b.Height)
	if err := l.putText(buf, blockHash, b.Hash); err != nil {
		return nil, err
	}
	if err := l.putText(buf, blockPrevHash, b.PrevHash); err != nil {
		return nil, err
	}
	l.putUint64(buf, blockDifficulty, b.Difficulty)
	l.putUint32(buf, blockStatus, uint32(b.Status))
	l.putUint64(buf, blockReward, uint64(b.Reward))
	l.putUint64(buf, blockTimestamp, uint64(b.Timestamp))
	return buf, nil
}

// EncodeBalance encodes a balance value.
func EncodeBalance(amount Amount) []byte {
	buf := make([]byte, BalanceSize)
	balanceLayout.putUint64(buf, 0, uint64(amount))
	return buf
}

// EncodeAddressKey pads an address to the 128-byte key the daemon uses for
// the balance table.
func EncodeAddressKey(address string) ([]byte, error) {
	buf := make([]byte, AddressSize)
	if err := addressKeyLayout.putText(buf, 0, address); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeHeightKey encodes a height key for the shares and blocks tables.
func EncodeHeightKey(height uint64) []byte {
	buf := make([]byte, HeightKeySize)
	heightKeyLayout.putUint64(buf, 0, height)
	return buf
}

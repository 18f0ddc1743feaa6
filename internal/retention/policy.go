package retention

import (
	"time"

	"github.com/bardlex/poolclean/internal/record"
)

// Cutoff returns now minus days whole days. Records strictly older than the
// cutoff are expired.
func Cutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// ShareExpired reports whether a share is older than cutoff.
func ShareExpired(s record.Share, cutoff time.Time) bool {
	return s.Timestamp < cutoff.Unix()
}

// PaymentExpired reports whether a payment is older than cutoff.
func PaymentExpired(p record.Payment, cutoff time.Time) bool {
	return p.Timestamp < cutoff.Unix()
}

// BlockExpired reports whether a block is older than cutoff. Unlocked blocks
// never expire while preserveUnlocked is set.
func BlockExpired(b record.Block, cutoff time.Time, preserveUnlocked bool) bool {
	if preserveUnlocked && b.Status == record.StatusUnlocked {
		return false
	}
	return b.Timestamp < cutoff.Unix()
}

// BalanceEmpty reports whether a balance holds nothing. Age plays no part.
func BalanceEmpty(b record.Balance) bool {
	return b.Amount == 0
}

package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// signatureLen truncates signatures to a fixed short length; 32 hex chars
// keeps collisions negligible while fitting the indexed column.
const signatureLen = 32

// Risk buckets used for dedup signatures. Coarser than display levels on
// purpose: score jitter within a bucket must not re-alert on the same day.
const (
	BucketHigh   = "high"
	BucketMedium = "med"
	BucketLow    = "low"
)

func RiskBucket(score float64) string {
	switch {
	case score >= 70:
		return BucketHigh
	case score >= 50:
		return BucketMedium
	default:
		return BucketLow
	}
}

// EventSignature identifies "this area, this risk bucket, this calendar
// day". day is formatted YYYY-MM-DD.
func EventSignature(areaID uint64, riskScore float64, day string) string {
	return truncatedHash(fmt.Sprintf("%d:%s:%s", areaID, RiskBucket(riskScore), day))
}

// DigestSignature identifies one digest period per user, so a restarted
// digest job cannot re-send within the same period. kind is an alert type
// constant, period a date (daily) or week-start date (weekly).
func DigestSignature(kind, period string) string {
	return truncatedHash(fmt.Sprintf("digest:%s:%s", kind, period))
}

func truncatedHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:signatureLen]
}

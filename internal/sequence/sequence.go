// Package sequence issues collision-free, strictly increasing numbers per key.
// Every implementation performs one atomic read-modify-write per call; values are
// never reissued, so a rolled-back consumer leaves a gap rather than a duplicate.
package sequence

import (
	"cmp"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Allocator hands out the next value for a sequence key.
type Allocator interface {
	Next(ctx context.Context, key string) (uint64, error)
}

const (
	// BarcodeKey is the sequence space for in-store product barcodes.
	BarcodeKey = "barcode"
	// BarcodePrefix is the GS1 restricted-circulation prefix used for in-store codes.
	BarcodePrefix = "200"

	batchIDPrefix = "BT"
	maxKeyLength  = 128
)

// ValidateKey rejects keys the stores cannot hold.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: sequence key required", shared.ErrValidation)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: sequence key longer than %d", shared.ErrValidation, maxKeyLength)
	}
	return nil
}

// BatchNamespace is the per-day key batch numbers are drawn from.
func BatchNamespace(day time.Time) string {
	return "batch:" + day.UTC().Format("20060102")
}

// FormatBatchID derives a batch identifier from its receipt day and sequence value.
// The value is zero-padded to six digits and grows wider past 999999, so order IDs
// with CompareBatchIDs rather than plain string comparison.
func FormatBatchID(day time.Time, n uint64) string {
	return fmt.Sprintf("%s-%s-%06d", batchIDPrefix, day.UTC().Format("20060102"), n)
}

// CompareBatchIDs orders batch identifiers by day, then by sequence value.
// It returns -1, 0 or +1 like strings.Compare.
func CompareBatchIDs(a, b string) int {
	aHead, aSeq := splitBatchID(a)
	bHead, bSeq := splitBatchID(b)
	if c := strings.Compare(aHead, bHead); c != 0 {
		return c
	}
	if len(aSeq) != len(bSeq) {
		return cmp.Compare(len(aSeq), len(bSeq))
	}
	return strings.Compare(aSeq, bSeq)
}

func splitBatchID(id string) (head, seq string) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

// FormatBarcode builds a 13 digit EAN code from a numeric prefix and a sequence value.
func FormatBarcode(prefix string, n uint64) (string, error) {
	if prefix == "" || len(prefix) >= 12 || strings.Trim(prefix, "0123456789") != "" {
		return "", fmt.Errorf("%w: barcode prefix must be 1-11 digits", shared.ErrValidation)
	}
	width := 12 - len(prefix)
	digits := strconv.FormatUint(n, 10)
	if len(digits) > width {
		return "", fmt.Errorf("%w: sequence %d exceeds %d barcode digits", shared.ErrValidation, n, width)
	}
	body := prefix + strings.Repeat("0", width-len(digits)) + digits
	return body + strconv.Itoa(checkDigit(body)), nil
}

func checkDigit(body string) int {
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

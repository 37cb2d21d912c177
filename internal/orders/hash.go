package orders

import (
	"cmp"
	"encoding/hex"
	"encoding/json"
	"slices"

	"golang.org/x/crypto/blake2b"

	"github.com/distrochain/distrochain/internal/shared"
)

type hashLine struct {
	Product string `json:"p"`
	Qty     int64  `json:"q"`
	Rate    string `json:"r"`
}

// RequestHash digests the normalised lines of a submission. Line order, surrounding
// whitespace and trailing zeros in rates do not change the digest.
func RequestHash(lines []LineInput) (string, error) {
	norm := make([]hashLine, 0, len(lines))
	for _, l := range lines {
		norm = append(norm, hashLine{
			Product: shared.ProductName(l.ProductName),
			Qty:     l.Qty,
			Rate:    l.Rate.String(),
		})
	}
	slices.SortFunc(norm, func(a, b hashLine) int {
		return cmp.Or(
			cmp.Compare(a.Product, b.Product),
			cmp.Compare(a.Qty, b.Qty),
			cmp.Compare(a.Rate, b.Rate),
		)
	})
	raw, err := json.Marshal(norm)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

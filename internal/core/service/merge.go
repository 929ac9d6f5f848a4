package service

import (
	"time"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

// mergeCarts reconciles the local cart with the remote rows. Local quantity wins for
// products present on both sides, remote-only lines are adopted as-is. The returned
// lines are the ones the remote does not yet hold with the merged quantity.
func mergeCarts(local domain.Cart, remote []domain.RemoteLine, now time.Time) (domain.Cart, []domain.CartLine) {
	merged := local.Clone()

	remoteQty := make(map[string]int, len(remote))
	for _, r := range remote {
		if r.ProductRef == "" || r.Quantity <= 0 {
			continue
		}
		if _, dup := remoteQty[r.ProductRef]; dup {
			continue
		}
		remoteQty[r.ProductRef] = r.Quantity

		if merged.Find(r.ProductRef) >= 0 {
			continue
		}
		line := r.ToCartLine()
		if line.AddedAt.IsZero() {
			line.AddedAt = now
		}
		merged.Lines = append(merged.Lines, line)
	}

	var pushes []domain.CartLine
	for _, line := range local.Lines {
		if qty, ok := remoteQty[line.ProductRef]; !ok || qty != line.Quantity {
			pushes = append(pushes, line)
		}
	}
	return merged, pushes
}

// adoptLines appends the lines of from that target does not already hold.
func adoptLines(target domain.Cart, from []domain.CartLine) domain.Cart {
	out := target.Clone()
	for _, line := range from {
		if out.Find(line.ProductRef) >= 0 {
			continue
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

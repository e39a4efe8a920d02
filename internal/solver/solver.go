// Package solver picks the multiset of available coupons that covers as much
// of a payment amount as possible. It minimises the cash the payer must add
// first, and the number of coupons spent second.
package solver

import (
	"fmt"

	"github.com/bronweg/couponvault/internal/model"
)

// Allocation is the result of a solve: the leftover cash and the coupons to
// use per denomination, ascending, zero-count denominations omitted.
type Allocation struct {
	CashToAdd float64
	Usage     []model.DenominationCount
}

// TotalCoupons returns the number of coupons the allocation spends.
func (a Allocation) TotalCoupons() int {
	total := 0
	for _, u := range a.Usage {
		total += u.Count
	}
	return total
}

// frame is one level of the enumeration: the commitment to a single
// denomination. Levels run from the largest denomination down, so each
// distinct multiset is visited exactly once.
type frame struct {
	idx        int       // index into available
	k          int       // current commitment at this level
	rems       []float64 // rems[i] = target remaining after using i coupons of this denomination
	usedBefore int       // coupons committed by higher denominations
}

// Solve finds the optimal coupon usage for target given the available
// (denomination, count) pairs, which must be ascending by denomination with
// no duplicates and positive counts.
//
// Among all feasible multisets whose value does not exceed target, the
// result has minimal leftover cash; ties are broken by minimal coupon count,
// and remaining ties by preferring more of the larger denomination. The
// cash-to-add of the result is always >= 0: using no coupons at all is a
// feasible fallback, so Solve cannot fail on valid input. A negative target
// is a caller bug and panics.
func Solve(target float64, available []model.DenominationCount) Allocation {
	if target < 0 {
		panic(fmt.Sprintf("solver: negative target amount %v", target))
	}

	best := Allocation{CashToAdd: target}
	if target == 0 || len(available) == 0 {
		return best
	}
	bestCount := 0

	stack := make([]frame, 0, len(available))
	push := func(idx, usedBefore int, rem float64) {
		d := available[idx].Denomination
		rems := make([]float64, 1, available[idx].Count+1)
		rems[0] = rem
		for k := 0; k < available[idx].Count && rems[k]-d >= 0; k++ {
			rems = append(rems, rems[k]-d)
		}
		stack = append(stack, frame{
			idx:        idx,
			k:          len(rems) - 1,
			rems:       rems,
			usedBefore: usedBefore,
		})
	}
	push(len(available)-1, 0, target)

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.k < 0 {
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				break
			}
			stack[len(stack)-1].k--
			continue
		}

		rem := top.rems[top.k]
		if rem == 0 || top.idx == 0 {
			count := top.usedBefore + top.k
			if rem < best.CashToAdd || (rem == best.CashToAdd && count < bestCount) {
				best = Allocation{CashToAdd: rem, Usage: captureUsage(stack, available)}
				bestCount = count
			}
			top.k--
			continue
		}

		push(top.idx-1, top.usedBefore+top.k, rem)
	}

	return best
}

// captureUsage snapshots the non-zero commitments currently on the stack,
// ascending by denomination.
func captureUsage(stack []frame, available []model.DenominationCount) []model.DenominationCount {
	usage := make([]model.DenominationCount, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].k > 0 {
			usage = append(usage, model.DenominationCount{
				Denomination: available[stack[i].idx].Denomination,
				Count:        stack[i].k,
			})
		}
	}
	return usage
}

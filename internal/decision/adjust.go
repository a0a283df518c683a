package decision

import (
	"net/netip"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Context adjustment deltas. Kept small relative to the model and
// velocity signals; they nudge borderline scores rather than decide.
const (
	deltaAmountExceedsBalance = 0.3
	deltaZeroBalanceSpend     = 0.2
	deltaNearTotalBalance     = 0.15
	deltaHighBalanceShare     = 0.08
	deltaLoopbackIP           = 0.05
	deltaMissingDevice        = 0.05
)

// Adjustment is one heuristic delta with its explanation.
type Adjustment struct {
	Delta  float64
	Reason string
}

// ContextAdjustments applies the lightweight heuristics that use only
// fields already present on the transaction: wallet-balance
// plausibility, IP address shape and device identifier presence. The
// summed delta is added to the fused score before clamping; the caller
// must re-run the decision policy afterwards.
func ContextAdjustments(tx *domain.Transaction) []Adjustment {
	var out []Adjustment
	out = append(out, walletAdjustments(tx)...)
	out = append(out, ipAdjustments(tx)...)
	out = append(out, deviceAdjustments(tx)...)
	return out
}

// SumAdjustments totals deltas and collects reasons in order.
func SumAdjustments(adjustments []Adjustment) (float64, []string) {
	var delta float64
	var reasons []string
	for _, a := range adjustments {
		delta += a.Delta
		reasons = append(reasons, a.Reason)
	}
	return delta, reasons
}

func walletAdjustments(tx *domain.Transaction) []Adjustment {
	if tx.WalletBalance == nil {
		return nil
	}
	balance := *tx.WalletBalance

	var out []Adjustment
	switch {
	case tx.Amount > balance:
		out = append(out, Adjustment{deltaAmountExceedsBalance, "amount exceeds balance"})
	case balance > 0 && tx.Amount >= 0.95*balance:
		out = append(out, Adjustment{deltaNearTotalBalance, "amount consumes over 95% of wallet balance"})
	case balance > 0 && tx.Amount >= 0.8*balance:
		out = append(out, Adjustment{deltaHighBalanceShare, "amount consumes over 80% of wallet balance"})
	}
	if balance == 0 && tx.Amount > 0 {
		out = append(out, Adjustment{deltaZeroBalanceSpend, "positive amount from zero-balance wallet"})
	}
	return out
}

func ipAdjustments(tx *domain.Transaction) []Adjustment {
	if tx.IPAddress == "" {
		return nil
	}
	addr, err := netip.ParseAddr(tx.IPAddress)
	if err != nil {
		return nil
	}
	// Private ranges are expected behind NAT and carry no signal.
	if addr.IsLoopback() {
		return []Adjustment{{deltaLoopbackIP, "transaction from loopback address"}}
	}
	return nil
}

func deviceAdjustments(tx *domain.Transaction) []Adjustment {
	if tx.DeviceID == "" {
		return []Adjustment{{deltaMissingDevice, "missing device identifier"}}
	}
	return nil
}

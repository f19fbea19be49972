package provider

import (
	"strings"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

// Raw order states reported by the settlement provider.
const (
	RawAwaitingDeposit   = "Awaiting Deposit"
	RawConfirmingDeposit = "Confirming Deposit"
	RawExchanging        = "Exchanging"
	RawSending           = "Sending"
	RawComplete          = "Complete"
	RawFailed            = "Failed"
	RawRefunding         = "Refunding"
	RawRefund            = "Refund"
	RawRefunded          = "Refunded"
	RawExpired           = "Expired"
)

var statusTable = map[string]domain.TransactionStatus{
	normalizeRaw(RawAwaitingDeposit):   domain.StatusPending,
	normalizeRaw(RawConfirmingDeposit): domain.StatusProcessing,
	normalizeRaw(RawExchanging):        domain.StatusProcessing,
	normalizeRaw(RawSending):           domain.StatusProcessing,
	normalizeRaw(RawRefunding):         domain.StatusProcessing,
	normalizeRaw(RawComplete):          domain.StatusCompleted,
	normalizeRaw(RawFailed):            domain.StatusFailed,
	normalizeRaw(RawRefund):            domain.StatusCancelled,
	normalizeRaw(RawRefunded):          domain.StatusCancelled,
	normalizeRaw(RawExpired):           domain.StatusCancelled,
}

var progression = []string{
	RawAwaitingDeposit,
	RawConfirmingDeposit,
	RawExchanging,
	RawSending,
	RawComplete,
}

// Progression returns the normalized happy-path states in lifecycle order.
func Progression() []string {
	out := make([]string, len(progression))
	for i, raw := range progression {
		out[i] = normalizeRaw(raw)
	}
	return out
}

// Precedes reports whether raw status a comes before b on the happy path.
// Statuses off the path never precede anything.
func Precedes(a, b string) bool {
	ia, ib := -1, -1
	na, nb := normalizeRaw(a), normalizeRaw(b)
	for i, raw := range progression {
		switch normalizeRaw(raw) {
		case na:
			ia = i
		case nb:
			ib = i
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}

// MapStatus translates a raw provider status into the internal lifecycle.
// Unknown values map to pending and report known=false so callers can log
// them; pending can never regress a stored status.
func MapStatus(raw string) (status domain.TransactionStatus, known bool) {
	s, ok := statusTable[normalizeRaw(raw)]
	if !ok {
		return domain.StatusPending, false
	}
	return s, true
}

func normalizeRaw(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

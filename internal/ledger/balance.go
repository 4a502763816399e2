package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/pkg/db/models"
	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// Balance is a stream's position in base currency.
type Balance struct {
	Stream     enums.LedgerStream `json:"stream"`
	Amount     decimal.Decimal    `json:"amount"`
	Currency   enums.Currency     `json:"currency"`
	Inflows    decimal.Decimal    `json:"inflows"`
	Outflows   decimal.Decimal    `json:"outflows"`
	EntryCount int                `json:"entry_count"`
	AsOf       time.Time          `json:"as_of"`
}

// sumEntries folds entries into a balance. Addition is exact, so the result does
// not depend on the order rows were inserted in.
func sumEntries(stream enums.LedgerStream, currency enums.Currency, asOf time.Time, entries []models.LedgerEntry) Balance {
	balance := Balance{
		Stream:   stream,
		Amount:   decimal.Zero,
		Currency: currency,
		Inflows:  decimal.Zero,
		Outflows: decimal.Zero,
		AsOf:     asOf,
	}
	for _, entry := range entries {
		if entry.Direction == enums.DirectionOutflow {
			balance.Outflows = balance.Outflows.Add(entry.BaseAmount)
		} else {
			balance.Inflows = balance.Inflows.Add(entry.BaseAmount)
		}
		balance.EntryCount++
	}
	balance.Amount = balance.Inflows.Sub(balance.Outflows)
	return balance
}

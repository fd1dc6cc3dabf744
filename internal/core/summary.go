package core

import "sort"

// CurrencyTotal is the summed balance of the accounts held in one currency.
type CurrencyTotal struct {
	Currency string `json:"currency"`
	Total    Money  `json:"total"`
	Accounts int    `json:"accounts"`
}

// Summary aggregates account balances per currency. No conversion happens here.
type Summary struct {
	Totals   []CurrencyTotal `json:"totals"`
	Excluded int             `json:"excluded"`
}

// Summarize totals balances per currency, skipping accounts flagged
// ExcludeFromSummary. Totals are sorted by currency code.
func Summarize(accounts []Account) Summary {
	byCurrency := make(map[string]*CurrencyTotal)
	var s Summary
	for _, a := range accounts {
		if a.ExcludeFromSummary {
			s.Excluded++
			continue
		}
		ct, ok := byCurrency[a.Currency]
		if !ok {
			ct = &CurrencyTotal{Currency: a.Currency}
			byCurrency[a.Currency] = ct
		}
		ct.Total = ct.Total.Add(a.Balance)
		ct.Accounts++
	}
	s.Totals = make([]CurrencyTotal, 0, len(byCurrency))
	for _, ct := range byCurrency {
		s.Totals = append(s.Totals, *ct)
	}
	sort.Slice(s.Totals, func(i, j int) bool { return s.Totals[i].Currency < s.Totals[j].Currency })
	return s
}

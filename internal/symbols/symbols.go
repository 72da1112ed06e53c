// Package symbols handles ticker canonicalization and the static symbol
// directory. Two forms of every ticker coexist: the canonical form used
// as cache key and API input ("BRK B") and the exchange-qualified
// external form the chart provider understands ("BRK-B", "NESN.SW").
package symbols

import (
	"strings"
)

// AssetClass labels what kind of instrument a symbol refers to.
type AssetClass string

const (
	ClassStock      AssetClass = "stock"
	ClassETF        AssetClass = "etf"
	ClassBond       AssetClass = "bond"
	ClassCrypto     AssetClass = "crypto"
	ClassMutualFund AssetClass = "mutual_fund"
	ClassCurrency   AssetClass = "currency"
)

// Meta is the directory record for a canonical ticker.
type Meta struct {
	External string
	Name     string
	Class    AssetClass
}

// directory maps canonical tickers to their external symbol and display
// metadata. One canonical mapping per ticker: where upstream sources
// disagreed on IAG and NESN, the London and Swiss listings won.
var directory = map[string]Meta{
	"AAPL":   {External: "AAPL", Name: "Apple Inc.", Class: ClassStock},
	"MSFT":   {External: "MSFT", Name: "Microsoft Corporation", Class: ClassStock},
	"GOOGL":  {External: "GOOGL", Name: "Alphabet Inc.", Class: ClassStock},
	"AMZN":   {External: "AMZN", Name: "Amazon.com, Inc.", Class: ClassStock},
	"TSLA":   {External: "TSLA", Name: "Tesla, Inc.", Class: ClassStock},
	"NVDA":   {External: "NVDA", Name: "NVIDIA Corporation", Class: ClassStock},
	"META":   {External: "META", Name: "Meta Platforms, Inc.", Class: ClassStock},
	"BRK B":  {External: "BRK-B", Name: "Berkshire Hathaway Inc.", Class: ClassStock},
	"BRK A":  {External: "BRK-A", Name: "Berkshire Hathaway Inc.", Class: ClassStock},
	"IAG":    {External: "IAG.L", Name: "International Consolidated Airlines Group", Class: ClassStock},
	"NESN":   {External: "NESN.SW", Name: "Nestle S.A.", Class: ClassStock},
	"ASML":   {External: "ASML.AS", Name: "ASML Holding N.V.", Class: ClassStock},
	"SAP":    {External: "SAP.DE", Name: "SAP SE", Class: ClassStock},
	"SHEL":   {External: "SHEL.L", Name: "Shell plc", Class: ClassStock},
	"VOO":    {External: "VOO", Name: "Vanguard S&P 500 ETF", Class: ClassETF},
	"VT":     {External: "VT", Name: "Vanguard Total World Stock ETF", Class: ClassETF},
	"SPY":    {External: "SPY", Name: "SPDR S&P 500 ETF Trust", Class: ClassETF},
	"QQQ":    {External: "QQQ", Name: "Invesco QQQ Trust", Class: ClassETF},
	"VWRL":   {External: "VWRL.L", Name: "Vanguard FTSE All-World UCITS ETF", Class: ClassETF},
	"AGG":    {External: "AGG", Name: "iShares Core U.S. Aggregate Bond ETF", Class: ClassBond},
	"BND":    {External: "BND", Name: "Vanguard Total Bond Market ETF", Class: ClassBond},
	"BTC":    {External: "BTC-USD", Name: "Bitcoin", Class: ClassCrypto},
	"ETH":    {External: "ETH-USD", Name: "Ethereum", Class: ClassCrypto},
	"SOL":    {External: "SOL-USD", Name: "Solana", Class: ClassCrypto},
	"VTSAX":  {External: "VTSAX", Name: "Vanguard Total Stock Market Index Fund", Class: ClassMutualFund},
	"EURUSD": {External: "EURUSD=X", Name: "EUR/USD", Class: ClassCurrency},
	"GBPUSD": {External: "GBPUSD=X", Name: "GBP/USD", Class: ClassCurrency},
	"CHFUSD": {External: "CHFUSD=X", Name: "CHF/USD", Class: ClassCurrency},
}

// Normalize returns the canonical form of a user-supplied ticker:
// upper-cased, trimmed, internal whitespace collapsed to single spaces.
// Normalize is idempotent.
func Normalize(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	t = strings.TrimPrefix(t, "$")
	return strings.Join(strings.Fields(t), " ")
}

// Lookup returns the directory record for a canonical ticker.
func Lookup(canonical string) (Meta, bool) {
	m, ok := directory[canonical]
	return m, ok
}

// DirectoryName returns the display name for a canonical ticker, or "".
func DirectoryName(canonical string) string {
	if m, ok := directory[canonical]; ok {
		return m.Name
	}
	return ""
}

// Variants generates syntactic external-symbol guesses for a canonical
// ticker whose directory entry is missing or wrong: whitespace collapsed
// away, replaced with "." or "-", and the bare form suffixed ".US".
func Variants(canonical string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	collapsed := strings.ReplaceAll(canonical, " ", "")
	add(collapsed)
	if strings.Contains(canonical, " ") {
		add(strings.ReplaceAll(canonical, " ", "."))
		add(strings.ReplaceAll(canonical, " ", "-"))
	}
	if !strings.Contains(collapsed, ".") {
		add(collapsed + ".US")
	}
	return out
}

// CSVSymbol derives the secondary daily-bar provider's symbol form:
// lower-cased, punctuation stripped to dots preserved, ".us" appended
// when the symbol carries no exchange suffix.
func CSVSymbol(canonical string) string {
	s := strings.ToLower(canonical)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return out
	}
	if !strings.Contains(out, ".") {
		out += ".us"
	}
	return out
}

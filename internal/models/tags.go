package models

// Tag labels an entry for exact-match invalidation, e.g. "symbol=AAPL".
type Tag string

const (
	tagSymbol    = "symbol="
	tagPortfolio = "portfolio="
	tagPeriod    = "period="
	tagUser      = "user="
)

// SymbolTag marks an entry that depends on symbol.
func SymbolTag(symbol string) Tag { return Tag(tagSymbol + symbol) }

// PortfolioTag marks an entry that belongs to a portfolio.
func PortfolioTag(portfolioID string) Tag { return Tag(tagPortfolio + portfolioID) }

// PeriodTag marks an entry computed over a chart or performance period.
func PeriodTag(period string) Tag { return Tag(tagPeriod + period) }

// UserTag marks an entry owned by a user.
func UserTag(userID string) Tag { return Tag(tagUser + userID) }

// Symbol returns the symbol carried by a symbol tag.
func (t Tag) Symbol() (string, bool) {
	s := string(t)
	if len(s) <= len(tagSymbol) || s[:len(tagSymbol)] != tagSymbol {
		return "", false
	}
	return s[len(tagSymbol):], true
}

package instruments

import (
	"context"
	"sort"
	"time"
)

// Query is an immutable filter configuration. Each filter method returns a
// new Query; the receiver is never modified, so derived queries can branch
// from a shared prefix safely.
type Query struct {
	filters []func(Instrument) bool
}

// NewQuery returns an empty query matching every instrument.
func NewQuery() Query {
	return Query{}
}

func (q Query) with(f func(Instrument) bool) Query {
	filters := make([]func(Instrument) bool, len(q.filters), len(q.filters)+1)
	copy(filters, q.filters)
	return Query{filters: append(filters, f)}
}

// Name filters by instrument name.
func (q Query) Name(name string) Query {
	return q.with(func(in Instrument) bool { return in.Name == name })
}

// InstrumentType filters by type (FUT, CE, PE, EQ, ...).
func (q Query) InstrumentType(instrumentType string) Query {
	return q.with(func(in Instrument) bool { return in.InstrumentType == instrumentType })
}

// Exchange filters by exchange.
func (q Query) Exchange(exchange string) Query {
	return q.with(func(in Instrument) bool { return in.Exchange == exchange })
}

// Segment filters by segment.
func (q Query) Segment(segment string) Query {
	return q.with(func(in Instrument) bool { return in.Segment == segment })
}

// Expiry filters by expiry date; only the calendar date is compared.
func (q Query) Expiry(expiry time.Time) Query {
	return q.with(func(in Instrument) bool { return sameDate(in.Expiry, expiry) })
}

// Strike filters by exact strike price.
func (q Query) Strike(strike float64) Query {
	return q.with(func(in Instrument) bool { return in.Strike == strike })
}

// StrikeRange filters by inclusive strike bounds.
func (q Query) StrikeRange(min, max float64) Query {
	return q.with(func(in Instrument) bool { return in.Strike >= min && in.Strike <= max })
}

// Tradingsymbol filters by trading symbol.
func (q Query) Tradingsymbol(tradingsymbol string) Query {
	return q.with(func(in Instrument) bool { return in.Tradingsymbol == tradingsymbol })
}

// InstrumentToken filters by instrument token.
func (q Query) InstrumentToken(token int) Query {
	return q.with(func(in Instrument) bool { return in.InstrumentToken == token })
}

// ExchangeToken filters by exchange token.
func (q Query) ExchangeToken(token int) Query {
	return q.with(func(in Instrument) bool { return in.ExchangeToken == token })
}

// LotSize filters by lot size.
func (q Query) LotSize(lotSize int) Query {
	return q.with(func(in Instrument) bool { return in.LotSize == lotSize })
}

// TickSize filters by tick size.
func (q Query) TickSize(tickSize float64) Query {
	return q.with(func(in Instrument) bool { return in.TickSize == tickSize })
}

// HasExpiry filters instruments that do or do not carry an expiry.
func (q Query) HasExpiry(hasExpiry bool) Query {
	return q.with(func(in Instrument) bool { return in.HasExpiry() == hasExpiry })
}

func (q Query) matches(in Instrument) bool {
	for _, f := range q.filters {
		if !f(in) {
			return false
		}
	}
	return true
}

// All resolves the query against the dataset handle.
func (q Query) All(ctx context.Context, src Source) ([]Instrument, error) {
	rows, err := src.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Instrument, 0)
	for _, in := range rows {
		if q.matches(in) {
			results = append(results, in)
		}
	}
	return results, nil
}

// First returns the first matching instrument, or nil when nothing matches.
func (q Query) First(ctx context.Context, src Source) (*Instrument, error) {
	rows, err := src.Instruments(ctx)
	if err != nil {
		return nil, err
	}
	for _, in := range rows {
		if q.matches(in) {
			return &in, nil
		}
	}
	return nil, nil
}

// Count returns the number of matching instruments.
func (q Query) Count(ctx context.Context, src Source) (int, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Exists reports whether any instrument matches.
func (q Query) Exists(ctx context.Context, src Source) (bool, error) {
	count, err := q.Count(ctx, src)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Expiries returns the sorted unique expiry dates of the matches.
func (q Query) Expiries(ctx context.Context, src Source) ([]time.Time, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	expiries := make([]time.Time, 0)
	for _, in := range results {
		if in.HasExpiry() && !seen[in.Expiry] {
			seen[in.Expiry] = true
			expiries = append(expiries, in.Expiry)
		}
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	return expiries, nil
}

// Strikes returns the sorted unique strike prices of the matches.
func (q Query) Strikes(ctx context.Context, src Source) ([]float64, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return nil, err
	}
	seen := make(map[float64]bool)
	strikes := make([]float64, 0)
	for _, in := range results {
		if !seen[in.Strike] {
			seen[in.Strike] = true
			strikes = append(strikes, in.Strike)
		}
	}
	sort.Float64s(strikes)
	return strikes, nil
}

// OptionChain returns the matching options, calls before puts.
func (q Query) OptionChain(ctx context.Context, src Source) ([]Instrument, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return nil, err
	}
	chain := make([]Instrument, 0, len(results))
	for _, in := range results {
		if in.InstrumentType == "CE" {
			chain = append(chain, in)
		}
	}
	for _, in := range results {
		if in.InstrumentType == "PE" {
			chain = append(chain, in)
		}
	}
	return chain, nil
}

// Unique returns the sorted unique values of key over the matches.
func (q Query) Unique(ctx context.Context, src Source, key func(Instrument) string) ([]string, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	values := make([]string, 0)
	for _, in := range results {
		v := key(in)
		if v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	return values, nil
}

// Summary aggregates counts over the matches.
type Summary struct {
	TotalInstruments int
	ByType           map[string]int
	ByExchange       map[string]int
	BySegment        map[string]int
	UniqueNames      []string
}

// Summarize computes summary statistics for the matches.
func (q Query) Summarize(ctx context.Context, src Source) (Summary, error) {
	results, err := q.All(ctx, src)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		TotalInstruments: len(results),
		ByType:           make(map[string]int),
		ByExchange:       make(map[string]int),
		BySegment:        make(map[string]int),
	}
	names := make(map[string]bool)
	for _, in := range results {
		summary.ByType[in.InstrumentType]++
		summary.ByExchange[in.Exchange]++
		summary.BySegment[in.Segment]++
		if in.Name != "" {
			names[in.Name] = true
		}
	}
	for name := range names {
		summary.UniqueNames = append(summary.UniqueNames, name)
	}
	sort.Strings(summary.UniqueNames)
	return summary, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

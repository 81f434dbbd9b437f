// Package instruments queries the broker's instrument reference dump. The
// dataset is owned by a caller-supplied Source handle; there is no
// process-wide cache.
package instruments

import (
	"context"
	"fmt"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

// Instrument is one row of the instrument dump.
type Instrument struct {
	InstrumentToken int
	ExchangeToken   int
	Tradingsymbol   string
	Name            string
	LastPrice       float64
	Expiry          time.Time // zero when the instrument has no expiry
	Strike          float64
	TickSize        float64
	LotSize         int
	InstrumentType  string
	Segment         string
	Exchange        string
}

// HasExpiry reports whether the instrument carries an expiry date.
func (in Instrument) HasExpiry() bool {
	return !in.Expiry.IsZero()
}

// Source supplies the instrument dataset queries run against.
type Source interface {
	Instruments(ctx context.Context) ([]Instrument, error)
}

// KiteSource downloads the dump from the broker once per handle and serves
// it from memory afterwards. Handles are safe for concurrent use.
type KiteSource struct {
	kc     *kiteconnect.Client
	once   sync.Once
	cached []Instrument
	err    error
}

// NewKiteSource creates a source backed by the broker's public instruments
// endpoint. The dump itself needs no authentication, so any API key works.
func NewKiteSource(apiKey string) *KiteSource {
	return &KiteSource{kc: kiteconnect.New(apiKey)}
}

func (s *KiteSource) Instruments(ctx context.Context) ([]Instrument, error) {
	s.once.Do(func() {
		rows, err := s.kc.GetInstruments()
		if err != nil {
			s.err = fmt.Errorf("failed to load instruments data: %w", err)
			return
		}
		s.cached = make([]Instrument, 0, len(rows))
		for _, row := range rows {
			s.cached = append(s.cached, Instrument{
				InstrumentToken: row.InstrumentToken,
				ExchangeToken:   row.ExchangeToken,
				Tradingsymbol:   row.Tradingsymbol,
				Name:            row.Name,
				LastPrice:       row.LastPrice,
				Expiry:          row.Expiry.Time,
				Strike:          row.StrikePrice,
				TickSize:        row.TickSize,
				LotSize:         int(row.LotSize),
				InstrumentType:  row.InstrumentType,
				Segment:         row.Segment,
				Exchange:        row.Exchange,
			})
		}
	})
	return s.cached, s.err
}

// StaticSource serves a fixed slice, for tests and offline datasets.
type StaticSource []Instrument

func (s StaticSource) Instruments(ctx context.Context) ([]Instrument, error) {
	return s, nil
}

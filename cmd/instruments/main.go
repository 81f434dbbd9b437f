// Command instruments walks through the instrument query layer against the
// live dump: futures lookups, option chains, expiries and strikes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"kiteclient/internal/config"
	"kiteclient/internal/instruments"
	"kiteclient/internal/logger"

	"github.com/joho/godotenv"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	must(logger.Init())

	cfg, err := config.Load("config.yaml")
	must(err)

	ctx := context.Background()
	src := instruments.NewKiteSource(cfg.APIKey)

	name := "NIFTY"
	if len(os.Args) > 1 {
		name = os.Args[1]
	}

	futures, err := instruments.NewQuery().Name(name).InstrumentType("FUT").All(ctx, src)
	must(err)
	fmt.Printf("%s futures: %d found\n", name, len(futures))

	first, err := instruments.NewQuery().Name(name).InstrumentType("FUT").First(ctx, src)
	must(err)
	if first != nil {
		fmt.Printf("%s first future: %s (expiry %s)\n", name, first.Tradingsymbol, first.Expiry.Format("2006-01-02"))
	}

	calls := instruments.NewQuery().Name(name).InstrumentType("CE")
	expiries, err := calls.Expiries(ctx, src)
	must(err)
	fmt.Printf("%s call expiries: %d found\n", name, len(expiries))
	if len(expiries) == 0 {
		return
	}

	nearest := calls.Expiry(expiries[0])
	strikes, err := nearest.Strikes(ctx, src)
	must(err)
	fmt.Printf("%s strikes for %s: %d found\n", name, expiries[0].Format("2006-01-02"), len(strikes))

	chain, err := instruments.NewQuery().Name(name).Expiry(expiries[0]).OptionChain(ctx, src)
	must(err)
	fmt.Printf("%s option chain for %s: %d instruments\n", name, expiries[0].Format("2006-01-02"), len(chain))

	summary, err := instruments.NewQuery().Name(name).Expiry(expiries[0]).Summarize(ctx, src)
	must(err)
	fmt.Printf("%s summary: total=%d by_type=%v\n", name, summary.TotalInstruments, summary.ByType)
}

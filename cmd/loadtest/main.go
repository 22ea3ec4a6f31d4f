// Command loadtest feeds a live book.Book a stream of randomly generated
// orders and reports latency statistics, in the style of the teacher pack's
// QuantCup driver: a random order generator run one order at a time against
// the engine, with mean/stddev measured by github.com/grd/stat.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"

	"limitbook/internal/book"

	"github.com/grd/stat"
)

const nanoToSeconds = 1e-9

func main() {
	orders := flag.Int("orders", 100000, "number of orders to generate")
	maxPrice := flag.Int64("max-price", 20000, "upper bound (ticks) for generated prices")
	maxQty := flag.Int64("max-qty", 1000, "upper bound for generated share counts")
	cancelChance := flag.Float64("cancel-chance", 0.1, "probability [0,1) a step cancels a resting order instead of adding one")
	seed := flag.Int64("seed", 1, "PRNG seed, for reproducible runs")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	b := book.New(nil)

	latencies := make(durationSlice, 0, *orders)
	var nextID uint64

	start := time.Now()
	for i := 0; i < *orders; i++ {
		step := time.Now()
		nextID++
		runStep(b, rng, nextID, *maxPrice, *maxQty, *cancelChance)
		latencies = append(latencies, time.Since(step))
	}
	total := time.Since(start)

	mean := stat.Mean(latencies)
	sd := stat.SdMean(latencies, mean)

	fmt.Printf("[loadtest] orders=%d bestBid=%d bestAsk=%d last=%d\n",
		*orders, b.GetBestBidPrice(), b.GetBestAskPrice(), b.LastTradePrice())
	fmt.Printf("[latency] mean=%1.4fus sd=%1.4fus\n", mean*nanoToSeconds*1e6, sd*nanoToSeconds*1e6)
	fmt.Printf("[throughput] %1.1f orders/sec\n", float64(*orders)/(total.Seconds()))
}

// runStep either submits a fresh random limit order or, with cancelChance
// probability, cancels a uniformly sampled resting limit order — mirroring
// GenerateRandomOrder's mix of inserts and cancels in the teacher pack.
func runStep(b *book.Book, rng *rand.Rand, id uint64, maxPrice, maxQty int64, cancelChance float64) {
	if rng.Float64() < cancelChance {
		if o := b.GetRandomOrder(book.LimitClass, rng); o != nil {
			b.CancelLimitOrder(o.ID)
			return
		}
	}

	side := book.Buy
	if rng.Intn(2) == 1 {
		side = book.Sell
	}
	price := book.Price(rng.Int63n(maxPrice) + 1)
	qty := book.Qty(rng.Int63n(maxQty) + 1)
	b.AddLimitOrder(id, side, qty, price)
}

// durationSlice adapts a []time.Duration to grd/stat's Float64er interface.
type durationSlice []time.Duration

func (d durationSlice) Get(i int) float64 { return float64(d[i]) }
func (d durationSlice) Len() int          { return len(d) }

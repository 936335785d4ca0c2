package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"udptime/pkg/results"
	"udptime/pkg/stats"

	"github.com/aybabtme/uniplot/histogram"
	mstats "github.com/montanaflynn/stats"
)

const histogramWidth = 40

// Report prints one line per probe in sequence order: offset and delay in seconds, or Dropped.
func Report(w io.Writer, tbl *results.Table) error {
	for seq, s := range tbl.All() {
		var err error
		if s.Received {
			_, err = fmt.Fprintf(w, "%d: %.4f %.4f\n", seq, s.Offset, s.Delay)
		} else {
			_, err = fmt.Fprintf(w, "%d: Dropped\n", seq)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func seconds(x float64) time.Duration {
	return time.Duration(math.Round(x * float64(time.Second)))
}

// series tracks the last size samples (all of them when size is 0).
type series struct {
	window *stats.Window[time.Duration]
	values mstats.Float64Data
	size   int
}

func newSeries(size int) *series {
	return &series{
		window: stats.New[time.Duration](size),
		size:   size,
	}
}

func (s *series) add(x float64) {
	s.window.Add(seconds(x))
	s.values = append(s.values, x)
	if s.size > 0 && len(s.values) > s.size {
		s.values = s.values[1:]
	}
}

func (s *series) print(w io.Writer, name string) error {
	median, _ := mstats.Median(s.values)
	p95, _ := mstats.PercentileNearestRank(s.values, 95)
	lo, _ := mstats.Min(s.values)
	hi, _ := mstats.Max(s.values)
	_, err := fmt.Fprintf(w, "%-6s mean %12v  sd %12v  median %12v  p95 %12v  min %12v  max %12v\n",
		name,
		s.window.Mean(),
		s.window.StdDev(),
		seconds(median),
		seconds(p95),
		seconds(lo),
		seconds(hi),
	)
	return err
}

// Summarize prints loss, offset and delay statistics over the received
// probes, and a histogram of the delays in milliseconds. A positive window
// restricts the statistics to the last window received probes.
func Summarize(w io.Writer, tbl *results.Table, bins, window int) error {
	offset := newSeries(window)
	delay := newSeries(window)
	for _, s := range tbl.All() {
		if s.Received {
			offset.add(s.Offset)
			delay.add(s.Delay)
		}
	}

	n, received := tbl.Len(), tbl.Received()
	var lossPct float64
	if n > 0 {
		lossPct = float64(n-received) * 100 / float64(n)
	}
	if _, err := fmt.Fprintf(w, "--- %d probes, %d received, %d dropped (%.1f%%)\n", n, received, n-received, lossPct); err != nil {
		return err
	}
	if received == 0 {
		return nil
	}
	if used := delay.window.Count(); used < received {
		if _, err := fmt.Fprintf(w, "--- statistics over the last %d received\n", used); err != nil {
			return err
		}
	}

	if err := offset.print(w, "offset"); err != nil {
		return err
	}
	if err := delay.print(w, "delay"); err != nil {
		return err
	}

	delayMs := make([]float64, len(delay.values))
	for i, x := range delay.values {
		delayMs[i] = x * 1e3
	}
	if _, err := fmt.Fprintln(w, "delay (ms)"); err != nil {
		return err
	}
	return histogram.Fprint(w, histogram.Hist(bins, delayMs), histogram.Linear(histogramWidth))
}

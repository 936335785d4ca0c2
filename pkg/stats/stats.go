package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window keeps exact running sums over the most recent samples, so that mean
// and standard deviation of large integer values (e.g. nanoseconds) do not
// lose precision.
type Window[T constraints.Signed] struct {
	sum     big.Int
	sum2    big.Int
	t1      big.Int
	t2      big.Int
	t3      big.Int
	samples fifo.Fifo[T]
	size    int
}

// New returns a window of the last size samples; size <= 0 keeps all of them.
func New[T constraints.Signed](size int) *Window[T] {
	return &Window[T]{
		size: size,
	}
}

func (w *Window[T]) Add(x T) {
	if w.size > 0 && w.Count() >= w.size {
		w.drop()
	}
	t := w.t1.SetInt64(int64(x))
	w.sum.Add(&w.sum, t)
	w.sum2.Add(&w.sum2, t.Mul(t, t))
	w.samples.Enqueue(x)
}

func (w *Window[T]) drop() {
	if x, ok := w.samples.Dequeue(); ok {
		t := w.t1.SetInt64(int64(x))
		w.sum.Sub(&w.sum, t)
		w.sum2.Sub(&w.sum2, t.Mul(t, t))
	}
}

func (w *Window[T]) Count() int {
	return w.samples.Len()
}

func (w *Window[T]) Mean() T {
	n := w.Count()
	if n < 1 {
		return 0
	}
	return T(w.t2.Quo(&w.sum, w.t1.SetUint64(uint64(n))).Int64())
}

// StdDev is the sample standard deviation, truncated.
func (w *Window[T]) StdDev() T {
	n := uint64(w.Count())
	if n < 2 {
		return 0
	}
	// Sqrt((n*sum2 - sum*sum) / (n*(n-1)))
	t1 := &w.t1
	t2 := &w.t2
	t3 := &w.t3

	t1.SetUint64(n)                                     // t1 = n
	t2.Sub(t2.Mul(t1, &w.sum2), t3.Mul(&w.sum, &w.sum)) // t2 = n*sum2 - (sum*sum)
	t3.Mul(t1, t3.SetUint64(n-1))                       // t3 = n*(n-1)

	return T(t2.Div(t2, t3).Sqrt(t2).Uint64())
}

package ta

import "math"

// SMA is the mean of the last n values, NaN when fewer are available.
func SMA(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		sum += vals[i]
	}
	return sum / float64(n)
}

// StdDev is the population standard deviation of the last n values.
func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

// EMA is an exponential moving average seeded with the SMA of its first
// period values.
type EMA struct {
	period int
	k      float64
	value  float64
	n      int
	seed   float64
}

func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, k: 2 / float64(period+1)}
}

func (e *EMA) Update(x float64) float64 {
	e.n++
	switch {
	case e.n < e.period:
		e.seed += x
		e.value = e.seed / float64(e.n)
	case e.n == e.period:
		e.seed += x
		e.value = e.seed / float64(e.period)
	default:
		e.value += e.k * (x - e.value)
	}
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Ready() bool    { return e.n >= e.period }

// Rolling keeps the last size values with O(1) mean and deviation.
type Rolling struct {
	buf   []float64
	head  int
	n     int
	sum   float64
	sumSq float64
}

func NewRolling(size int) *Rolling {
	if size < 1 {
		size = 1
	}
	return &Rolling{buf: make([]float64, size)}
}

// Push appends x, evicting the oldest value once the window is full.
func (r *Rolling) Push(x float64) {
	if r.n == len(r.buf) {
		old := r.buf[r.head]
		r.sum -= old
		r.sumSq -= old * old
	} else {
		r.n++
	}
	r.buf[r.head] = x
	r.head = (r.head + 1) % len(r.buf)
	r.sum += x
	r.sumSq += x * x
}

func (r *Rolling) Len() int   { return r.n }
func (r *Rolling) Full() bool { return r.n == len(r.buf) }

func (r *Rolling) Mean() float64 {
	if r.n == 0 {
		return math.NaN()
	}
	return r.sum / float64(r.n)
}

func (r *Rolling) StdDev() float64 {
	if r.n == 0 {
		return math.NaN()
	}
	m := r.Mean()
	v := r.sumSq/float64(r.n) - m*m
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// Oldest is the value that the next Push on a full window evicts.
func (r *Rolling) Oldest() float64 {
	if r.n == 0 {
		return math.NaN()
	}
	if r.n < len(r.buf) {
		return r.buf[0]
	}
	return r.buf[r.head]
}

// Bands returns the Bollinger mid, upper and lower bands of the window.
func (r *Rolling) Bands(k float64) (mid, up, low float64) {
	mid = r.Mean()
	sd := r.StdDev()
	return mid, mid + k*sd, mid - k*sd
}

// RSI is Wilder's relative strength index, updated one price at a time.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	gain    float64
	loss    float64
	n       int
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Update(x float64) float64 {
	if !r.hasPrev {
		r.prev, r.hasPrev = x, true
		return r.Value()
	}
	d := x - r.prev
	r.prev = x
	g, l := math.Max(d, 0), math.Max(-d, 0)
	r.n++
	p := float64(r.period)
	if r.n <= r.period {
		r.gain += g / p
		r.loss += l / p
	} else {
		r.gain = (r.gain*(p-1) + g) / p
		r.loss = (r.loss*(p-1) + l) / p
	}
	return r.Value()
}

func (r *RSI) Ready() bool { return r.n >= r.period }

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return math.NaN()
	}
	if r.loss == 0 {
		return 100
	}
	rs := r.gain / r.loss
	return 100 - 100/(1+rs)
}

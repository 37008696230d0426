package detect

import "flowguard/internal/model"

type Window struct {
	size    int
	samples []float64
	srcIP   string
	dstIP   string
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, samples: make([]float64, 0, size)}
}

// Add appends one sample and remembers the record's address pair; a flushed
// window is attributed to the last pair added.
func (w *Window) Add(sample float64, rec model.FlowRecord) {
	w.samples = append(w.samples, sample)
	w.srcIP = rec.SrcIP
	w.dstIP = rec.DstIP
}

func (w *Window) Full() bool {
	return len(w.samples) >= w.size
}

func (w *Window) Len() int {
	return len(w.samples)
}

func (w *Window) Samples() []float64 {
	return w.samples
}

func (w *Window) Mean() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	return sum / float64(len(w.samples))
}

func (w *Window) Reset() {
	w.samples = w.samples[:0]
}

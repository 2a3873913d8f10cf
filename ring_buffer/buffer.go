package ring_buffer

// Buffer is a fixed-size ring of int16 PCM samples. The capture loop keeps the
// most recent pre-roll audio in one so an utterance can include the samples
// heard just before speech onset.
type Buffer struct {
	buffer []int16
	head   int
	filled int
}

func New(size int) *Buffer {
	return &Buffer{
		buffer: make([]int16, size),
	}
}

func (r *Buffer) Add(samples []int16) {
	if len(r.buffer) == 0 {
		return
	}

	for _, s := range samples {
		r.buffer[r.head] = s
		r.head = (r.head + 1) % len(r.buffer)
		if r.filled < len(r.buffer) {
			r.filled++
		}
	}
}

// Read returns the buffered samples in arrival order. Before the ring has
// wrapped once it returns only the samples written so far.
func (r *Buffer) Read() []int16 {
	if len(r.buffer) == 0 {
		return nil
	}

	samples := make([]int16, r.filled)
	start := (r.head - r.filled + len(r.buffer)) % len(r.buffer)
	for i := 0; i < r.filled; i++ {
		samples[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return samples
}

func (r *Buffer) Clear() {
	r.head = 0
	r.filled = 0
}

package mmio

import "sync"

// Access is one recorded bus transaction.
type Access struct {
	Write  bool
	Offset uint32
	Value  uint32
}

// Recorder wraps an AddressSpace and keeps an ordered log of every access.
// It is used to check write ordering and access bounds.
type Recorder struct {
	space AddressSpace

	mu  sync.Mutex
	log []Access
}

// NewRecorder wraps space.
func NewRecorder(space AddressSpace) *Recorder {
	return &Recorder{space: space}
}

func (r *Recorder) ReadWord(offset uint32) (uint32, error) {
	v, err := r.space.ReadWord(offset)
	if err == nil {
		r.append(Access{Offset: offset, Value: v})
	}
	return v, err
}

func (r *Recorder) WriteWord(offset uint32, value uint32) error {
	err := r.space.WriteWord(offset, value)
	if err == nil {
		r.append(Access{Write: true, Offset: offset, Value: value})
	}
	return err
}

func (r *Recorder) append(a Access) {
	r.mu.Lock()
	r.log = append(r.log, a)
	r.mu.Unlock()
}

// Accesses returns a copy of the log.
func (r *Recorder) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Access(nil), r.log...)
}

// Writes returns only the write accesses, in order.
func (r *Recorder) Writes() []Access {
	var out []Access
	for _, a := range r.Accesses() {
		if a.Write {
			out = append(out, a)
		}
	}
	return out
}

// Reads counts the read accesses.
func (r *Recorder) Reads() int {
	n := 0
	for _, a := range r.Accesses() {
		if !a.Write {
			n++
		}
	}
	return n
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.log = nil
	r.mu.Unlock()
}

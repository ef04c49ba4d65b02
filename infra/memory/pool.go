package memory

import "sync"

// Pool is a typed sync.Pool. reset, when set, runs on every value handed
// back so the next Get sees it cleared.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// Bytes is a pool of byte slices that grow to at least size on Get.
type Bytes struct {
	pool *Pool[[]byte]
}

func NewBytes(initial int) *Bytes {
	return &Bytes{
		pool: NewPool(
			func() *[]byte { b := make([]byte, 0, initial); return &b },
			func(b *[]byte) { *b = (*b)[:0] },
		),
	}
}

// Get returns a slice of length size. Callers hand the pointer back with
// Put once the bytes are no longer referenced.
func (b *Bytes) Get(size int) *[]byte {
	bp := b.pool.Get()
	if cap(*bp) < size {
		*bp = make([]byte, size)
	}
	*bp = (*bp)[:size]
	return bp
}

func (b *Bytes) Put(bp *[]byte) {
	b.pool.Put(bp)
}

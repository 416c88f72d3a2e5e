package internal

import (
	"bytes"
	"sync"
)

// BufferPool recycles scratch buffers used while fingerprinting item stacks
// and building resync payloads.
var BufferPool = bufferPool{pool: sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}}

type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *bufferPool) Put(buf *bytes.Buffer) {
	p.pool.Put(buf)
}

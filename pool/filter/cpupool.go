package filter

import (
	"runtime"
	"sync"
)

// CPUPool is a fixed-size pool of goroutines for CPU-bound filter work
// (compression, decompression, encryption, decryption) — the Go rendition
// of the `cpu_executor` every `Compressor`/`Encrypt` filter in
// `original_source/fruitbak/pool/filter/{compression,encryption}.py`
// submits its `job` closures to. Keeping this separate from
// `backend.WorkerPool` (rather than sharing one pool) mirrors the
// original's separation of `executor` (backend I/O) from `cpu_executor`
// (CPU work): a pool full of slow disk I/O must never starve pending
// compression jobs, and vice versa.
type CPUPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewCPUPool starts n worker goroutines; n <= 0 defaults to
// runtime.GOMAXPROCS(0).
func NewCPUPool(n int) *CPUPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	cp := &CPUPool{jobs: make(chan func(), n*4)}
	cp.wg.Add(n)
	for i := 0; i < n; i++ {
		go cp.worker()
	}
	return cp
}

func (cp *CPUPool) worker() {
	defer cp.wg.Done()
	for job := range cp.jobs {
		job()
	}
}

// Submit enqueues job to run on some worker goroutine.
func (cp *CPUPool) Submit(job func()) {
	cp.jobs <- job
}

// Close stops accepting new jobs and waits for queued work to drain.
func (cp *CPUPool) Close() {
	close(cp.jobs)
	cp.wg.Wait()
}

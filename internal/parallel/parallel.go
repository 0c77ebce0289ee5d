// Package parallel provides the chunked worker loop used for data-parallel
// element-wise computation inside a single pass.
//
// Accumulation into a buffer whose target positions may alias (broadcast
// gradients) must NOT go through this package; such loops stay on a single
// goroutine, serialized by the caller.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how element ranges are split across goroutines.
type Config struct {
	Workers  int // Number of worker goroutines.
	MinChunk int // Minimum elements per goroutine; below this the loop runs inline.
}

// Default returns a configuration based on the CPU count.
func Default() Config {
	return Config{
		Workers:  runtime.NumCPU(),
		MinChunk: 1024,
	}
}

// For runs f over [0, n) split into contiguous chunks, one chunk per worker
// goroutine. Chunks never overlap, so f may write freely inside its range.
// Small ranges run inline on the calling goroutine.
func For(cfg Config, n int, f func(start, end int)) {
	if n <= 0 {
		return
	}
	if cfg.Workers <= 1 || n < cfg.MinChunk*2 {
		f(0, n)
		return
	}

	chunk := (n + cfg.Workers - 1) / cfg.Workers
	if chunk < cfg.MinChunk {
		chunk = cfg.MinChunk
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

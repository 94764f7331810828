package orchestration

import "sync"

// ChunkQueue carries reply fragments from the fetch worker to the drain
// schedule. Pushes are tagged with the generation handed out by Clear, pushes
// from an older generation are dropped.
type ChunkQueue struct {
	mu         sync.Mutex
	fragments  []string
	generation uint64
}

func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{}
}

// Push appends fragment if generation is current. It never blocks.
func (q *ChunkQueue) Push(generation uint64, fragment string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if generation != q.generation {
		return false
	}
	q.fragments = append(q.fragments, fragment)
	return true
}

// DrainAvailable removes and returns the pending fragments in order, stopping
// before the byte total would exceed maxBytes. At least one fragment is
// returned when any is pending. A maxBytes <= 0 drains everything.
func (q *ChunkQueue) DrainAvailable(maxBytes int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.fragments) == 0 {
		return nil
	}

	n, total := 0, 0
	for n < len(q.fragments) {
		size := len(q.fragments[n])
		if n > 0 && maxBytes > 0 && total+size > maxBytes {
			break
		}
		total += size
		n++
	}

	drained := make([]string, n)
	copy(drained, q.fragments[:n])
	if n == len(q.fragments) {
		q.fragments = nil
	} else {
		clear(q.fragments[:n])
		q.fragments = q.fragments[n:]
	}
	return drained
}

// Clear discards every pending fragment and starts a new generation.
func (q *ChunkQueue) Clear() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.fragments = nil
	q.generation++
	return q.generation
}

func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.fragments)
}

func (q *ChunkQueue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.generation
}

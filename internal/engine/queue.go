package engine

// followUpQueue is the FIFO of agents waiting to speak in one group pass
// (or one think-tank round). An agent speaks at most once per queue.
type followUpQueue struct {
	items     []string
	queued    map[string]bool
	responded map[string]bool

	rounds        int
	maxRounds     int
	iterations    int
	maxIterations int
}

func newFollowUpQueue(seed []string, maxRounds, maxIterations int) *followUpQueue {
	q := &followUpQueue{
		queued:        make(map[string]bool),
		responded:     make(map[string]bool),
		maxRounds:     maxRounds,
		maxIterations: maxIterations,
	}
	for _, id := range seed {
		if !q.queued[id] {
			q.queued[id] = true
			q.items = append(q.items, id)
		}
	}
	return q
}

func (q *followUpQueue) empty() bool { return len(q.items) == 0 }

// exhausted reports whether the iteration cap forbids another dequeue.
func (q *followUpQueue) exhausted() bool { return q.iterations >= q.maxIterations }

// capped reports whether hand-offs may no longer grow the queue.
func (q *followUpQueue) capped() bool { return q.rounds >= q.maxRounds }

// pop removes the head. Every pop counts as an iteration. ok is false for
// an agent that already spoke.
func (q *followUpQueue) pop() (id string, ok bool) {
	id = q.items[0]
	q.items = q.items[1:]
	delete(q.queued, id)
	q.iterations++
	if q.responded[id] {
		return id, false
	}
	q.responded[id] = true
	return id, true
}

// push enqueues every id that has neither spoken nor is waiting, and
// returns them. A non-empty push counts as one follow-up round.
func (q *followUpQueue) push(ids []string) []string {
	var added []string
	for _, id := range ids {
		if q.responded[id] || q.queued[id] {
			continue
		}
		q.queued[id] = true
		q.items = append(q.items, id)
		added = append(added, id)
	}
	if len(added) > 0 {
		q.rounds++
	}
	return added
}

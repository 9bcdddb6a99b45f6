package scheduler

import (
	"container/heap"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// queueItem wraps a task with the metadata the heap needs for I5's
// ordering guarantee: higher priority first, FIFO within a priority tier.
type queueItem struct {
	task  *domain.Task
	seq   int64
	index int
}

// priorityQueue is a per-organization max-heap on (priority, -seq).
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].task.Priority != pq[j].task.Priority {
		return pq[i].task.Priority > pq[j].task.Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(pq)
	return pq
}

// peekCompatible returns (without removing) the highest-priority queued
// task whose agent_target matches agentType or a literal agentID, or nil.
func peekCompatible(pq *priorityQueue, agentID, agentType string) *queueItem {
	var best *queueItem
	for _, item := range *pq {
		if item.task.AgentTarget != agentType && item.task.AgentTarget != agentID {
			continue
		}
		if best == nil || item.task.Priority > best.task.Priority ||
			(item.task.Priority == best.task.Priority && item.seq < best.seq) {
			best = item
		}
	}
	return best
}

// removeItem extracts a specific item from the heap by index.
func removeItem(pq *priorityQueue, item *queueItem) {
	heap.Remove(pq, item.index)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"container/heap"
	"sort"
	"time"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/google/uuid"
)

type queueItem struct {
	cmd   *ramses.Command
	seq   uint64
	index int
}

// commandHeap orders by priority, then creation time, then insertion
type commandHeap []*queueItem

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.cmd.Priority != b.cmd.Priority {
		return a.cmd.Priority < b.cmd.Priority
	}
	if !a.cmd.CreatedAt.Equal(b.cmd.CreatedAt) {
		return a.cmd.CreatedAt.Before(b.cmd.CreatedAt)
	}
	return a.seq < b.seq
}

func (h commandHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *commandHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *commandHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// CommandQueue holds pending commands in send order. The gate is consulted
// by PopReady so nothing leaves the queue while a response is due.
// CommandQueue is not safe for concurrent use; the stack owns it.
type CommandQueue struct {
	items commandHeap
	byID  map[uuid.UUID]*queueItem
	seq   uint64
	gate  func() bool
}

// NewCommandQueue creates a queue. A nil gate is always open.
func NewCommandQueue(gate func() bool) *CommandQueue {
	return &CommandQueue{
		byID: make(map[uuid.UUID]*queueItem),
		gate: gate,
	}
}

// Push adds a command. A command whose ID is already queued replaces it.
func (q *CommandQueue) Push(cmd *ramses.Command) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if old, ok := q.byID[cmd.ID]; ok {
		heap.Remove(&q.items, old.index)
	}
	q.seq++
	item := &queueItem{cmd: cmd, seq: q.seq}
	heap.Push(&q.items, item)
	q.byID[cmd.ID] = item
}

// PopReady removes and returns the next command, or nil when the queue is
// empty or the gate is closed.
func (q *CommandQueue) PopReady() *ramses.Command {
	if len(q.items) == 0 {
		return nil
	}
	if q.gate != nil && !q.gate() {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.byID, item.cmd.ID)
	return item.cmd
}

// Peek returns the next command without removing it
func (q *CommandQueue) Peek() *ramses.Command {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].cmd
}

// Remove drops a command by ID
func (q *CommandQueue) Remove(id uuid.UUID) (*ramses.Command, bool) {
	item, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return item.cmd, true
}

// SweepExpired removes and returns every command whose deadline is at or
// before now, in insertion order.
func (q *CommandQueue) SweepExpired(now time.Time) []*ramses.Command {
	var expired []*queueItem
	for _, item := range q.items {
		if !now.Before(item.cmd.Deadline()) {
			expired = append(expired, item)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })

	out := make([]*ramses.Command, 0, len(expired))
	for _, item := range expired {
		heap.Remove(&q.items, item.index)
		delete(q.byID, item.cmd.ID)
		out = append(out, item.cmd)
	}
	return out
}

// Len returns the number of queued commands
func (q *CommandQueue) Len() int {
	return len(q.items)
}

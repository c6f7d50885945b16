/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package diagnostic

import "container/heap"

// Priority orders the repair queue: HIGH < MEDIUM < LOW (spec.md §4.6).
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityMedium Priority = 1
	PriorityLow    Priority = 2
)

func priorityFor(sev string) Priority {
	switch sev {
	case "HIGH":
		return PriorityHigh
	case "MEDIUM":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// repairEntry is one repair queue item.
type repairEntry struct {
	faultID       string
	originAddress string
	faultCode     string
	priority      Priority
	attempts      int
	seq           int64
}

// repairHeap is a priority min-heap ordered HIGH < MEDIUM < LOW, FIFO within
// priority via the monotonically increasing seq tiebreaker.
type repairHeap []*repairEntry

func (h repairHeap) Len() int { return len(h) }
func (h repairHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h repairHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *repairHeap) Push(x interface{}) {
	*h = append(*h, x.(*repairEntry))
}

func (h *repairHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*repairHeap)(nil)

package core

import (
	"container/heap"
	"fmt"
	"sync"
)

// SchedulerMode selects the priority discipline for the inbound message
// queue.
type SchedulerMode string

const (
	SchedulerFIFO            SchedulerMode = "FIFO"
	SchedulerTypeBased       SchedulerMode = "TypeBased"
	SchedulerReputationBased SchedulerMode = "ReputationBased"
	SchedulerCombined        SchedulerMode = "Combined"
)

// InboundMessage is one entry in the priority scheduler's queue.
type InboundMessage struct {
	Type   MessageType
	Sender NodeID
	Frame  *Frame

	seq int64 // insertion order, used for FIFO tie-breaks
}

// typeWeights assigns a fixed scheduling weight per message type.
// Control-plane traffic (auth, DHT) outranks bulk data (gossip, replication)
// so a node under load keeps authenticating and resolving names.
var typeWeights = map[MessageType]int{
	MsgHello:            50,
	MsgAuthChallenge:    90,
	MsgAuthResponse:     90,
	MsgDhtPut:           40,
	MsgDhtGet:           40,
	MsgDhtResult:        40,
	MsgGossip:           20,
	MsgRelayReserve:     60,
	MsgRelayConnect:     60,
	MsgRelayData:        30,
	MsgRelayClose:       60,
	MsgLedgerTx:         70,
	MsgStorageReplicate: 25,
}

func typeWeight(t MessageType) int {
	if w, ok := typeWeights[t]; ok {
		return w
	}
	return 1
}

// pqItem is one heap element: an enqueued message plus its computed
// priority and a monotonically increasing sequence number so equal
// priorities resolve FIFO.
type pqItem struct {
	msg      InboundMessage
	priority int
	seq      int64
	index    int
}

type priorityHeap []*pqItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO tie-break
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler is the bounded inbound priority queue.
// On overflow the lowest-priority message is dropped and its sender is
// charged a QueueOverflow reputation decrement. Anti-starvation is
// provided by a round-robin class rotation layered over the heap: every
// `window` dequeues, the scheduler forces one pick from each non-empty
// message-type class that hasn't been served, before returning to
// pure-priority order.
type Scheduler struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	mode     SchedulerMode
	capacity int
	alpha    int // Combined mode's reputation weight
	window   int
	seq      int64

	h          priorityHeap
	reputation *PeerTable

	sinceServed map[MessageType]int // dequeues since each class was last served
	classes     map[MessageType]int // count of queued items per class

	overflowHook func(sender NodeID)
}

// NewScheduler constructs a scheduler. reputation may be nil for FIFO/TypeBased modes.
func NewScheduler(mode SchedulerMode, capacity, alpha, window int, reputation *PeerTable) *Scheduler {
	if capacity <= 0 {
		capacity = 10000
	}
	if window <= 0 {
		window = 50
	}
	s := &Scheduler{
		mode: mode, capacity: capacity, alpha: alpha, window: window,
		reputation:  reputation,
		sinceServed: make(map[MessageType]int),
		classes:     make(map[MessageType]int),
	}
	s.notEmpty = sync.NewCond(&s.mu)
	return s
}

// OnOverflow registers the hook invoked (outside the lock) whenever the
// queue drops a message for capacity; used to wire the QueueOverflow
// reputation decrement.
func (s *Scheduler) OnOverflow(fn func(sender NodeID)) { s.overflowHook = fn }

func (s *Scheduler) priority(msg InboundMessage) int {
	switch s.mode {
	case SchedulerFIFO:
		return 0
	case SchedulerTypeBased:
		return typeWeight(msg.Type)
	case SchedulerReputationBased:
		return s.clampedReputation(msg.Sender)
	case SchedulerCombined:
		return typeWeight(msg.Type) + s.alpha*s.clampedReputation(msg.Sender)
	default:
		return 0
	}
}

func (s *Scheduler) clampedReputation(sender NodeID) int {
	if s.reputation == nil {
		return 0
	}
	score := s.reputation.Score(sender)
	if score < 0 {
		return 0
	}
	return score
}

// Enqueue adds a message to the queue. If the queue is at capacity, the
// lowest-priority item (by the heap's own ordering) is evicted and its
// sender is reported via the overflow hook; the new message is then
// inserted.
func (s *Scheduler) Enqueue(msg InboundMessage) {
	s.mu.Lock()
	item := &pqItem{msg: msg, priority: s.priority(msg), seq: s.seq}
	s.seq++
	heap.Push(&s.h, item)
	s.classes[msg.Type]++
	if _, ok := s.sinceServed[msg.Type]; !ok {
		s.sinceServed[msg.Type] = 0
	}

	var droppedSender NodeID
	var dropped bool
	if len(s.h) > s.capacity {
		dropped, droppedSender = s.evictLowest()
	}
	s.notEmpty.Signal()
	s.mu.Unlock()

	if dropped && s.overflowHook != nil {
		s.overflowHook(droppedSender)
	}
}

// evictLowest removes the lowest-priority item from the heap. Caller must
// hold the lock.
func (s *Scheduler) evictLowest() (bool, NodeID) {
	if len(s.h) == 0 {
		return false, ""
	}
	worst := 0
	for i := 1; i < len(s.h); i++ {
		if s.h[i].priority < s.h[worst].priority ||
			(s.h[i].priority == s.h[worst].priority && s.h[i].seq > s.h[worst].seq) {
			worst = i
		}
	}
	victim := s.h[worst]
	heap.Remove(&s.h, worst)
	s.classes[victim.msg.Type]--
	return true, victim.msg.Sender
}

// Dequeue blocks until a message is available (or ctx-like cancel via
// TryDequeue in a loop) and returns the next message per the configured
// discipline, honoring the anti-starvation window.
func (s *Scheduler) Dequeue() InboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.h) == 0 {
		s.notEmpty.Wait()
	}
	return s.popLocked()
}

// TryDequeue is the non-blocking variant; ok is false if the queue is empty.
func (s *Scheduler) TryDequeue() (InboundMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return InboundMessage{}, false
	}
	return s.popLocked(), true
}

func (s *Scheduler) popLocked() InboundMessage {
	// Anti-starvation: if any class has gone `window` dequeues without
	// being served and currently has queued items, force-serve its
	// oldest item instead of the heap top.
	for class, queued := range s.classes {
		if queued > 0 && s.sinceServed[class] >= s.window {
			if idx := s.indexOfOldest(class); idx >= 0 {
				item := s.h[idx]
				heap.Remove(&s.h, idx)
				s.classes[class]--
				s.serve(class)
				return item.msg
			}
		}
	}
	item := heap.Pop(&s.h).(*pqItem)
	s.classes[item.msg.Type]--
	s.serve(item.msg.Type)
	return item.msg
}

func (s *Scheduler) serve(served MessageType) {
	for class := range s.sinceServed {
		if class == served {
			s.sinceServed[class] = 0
		} else {
			s.sinceServed[class]++
		}
	}
	if _, ok := s.sinceServed[served]; !ok {
		s.sinceServed[served] = 0
	}
}

func (s *Scheduler) indexOfOldest(class MessageType) int {
	best := -1
	for i, item := range s.h {
		if item.msg.Type != class {
			continue
		}
		if best == -1 || item.seq < s.h[best].seq {
			best = i
		}
	}
	return best
}

// Len returns the current queue length.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// ErrQueueFull is returned by bounded non-evicting callers; the scheduler
// itself never returns it (it evicts instead), but collaborators that
// choose reject-on-full semantics can use it.
var ErrQueueFull = fmt.Errorf("%w: scheduler queue at capacity", ErrQueueOverflow)

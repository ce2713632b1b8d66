package memory

import "sync"

// ShortTermStore is the FIFO buffer of the most recent raw messages
type ShortTermStore struct {
	mu       sync.Mutex
	counter  TokenCounter
	messages []Message
}

// NewShortTermStore creates an empty short-term store
func NewShortTermStore(counter TokenCounter) *ShortTermStore {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &ShortTermStore{counter: counter}
}

// Append adds messages in order
func (s *ShortTermStore) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages = append(s.messages, m.Clone())
	}
}

// Snapshot returns a copy of the buffered messages, oldest first
func (s *ShortTermStore) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

// Len returns the number of buffered messages
func (s *ShortTermStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Cost recomputes the token cost of the whole buffer
func (s *ShortTermStore) Cost() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CountMessages(s.counter, s.messages)
}

// PeekOverflow returns the shortest oldest-first prefix whose own cost is at
// least flushSize and whose removal leaves the rest costing at most ceiling.
// The prefix is then extended so that the remaining buffer starts on a user
// turn, as long as at least one message stays behind. Returns nil if no
// prefix qualifies. Messages are never split.
func (s *ShortTermStore) PeekOverflow(ceiling, flushSize int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages)
	if n == 0 {
		return nil
	}

	costs := make([]int, n)
	total := 0
	for i, m := range s.messages {
		costs[i] = CountMessage(s.counter, m)
		total += costs[i]
	}

	spanCost := 0
	for k := 1; k <= n; k++ {
		spanCost += costs[k-1]
		if spanCost < flushSize || total-spanCost > ceiling {
			continue
		}
		for k < n-1 && s.messages[k].Role != RoleUser {
			k++
		}
		return cloneMessages(s.messages[:k])
	}
	return nil
}

// Evict removes the first n messages and returns how many were removed
func (s *ShortTermStore) Evict(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.messages) {
		n = len(s.messages)
	}
	if n <= 0 {
		return 0
	}
	rest := make([]Message, len(s.messages)-n)
	copy(rest, s.messages[n:])
	s.messages = rest
	return n
}

// Clear drops every buffered message
func (s *ShortTermStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// TailWithin returns the longest suffix of msgs costing at most ceiling
func TailWithin(counter TokenCounter, msgs []Message, ceiling int) []Message {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	start := len(msgs)
	cost := 0
	for start > 0 {
		c := CountMessage(counter, msgs[start-1])
		if cost+c > ceiling {
			break
		}
		cost += c
		start--
	}
	return cloneMessages(msgs[start:])
}

package transport

import "slices"

const (
	echoLimit = 50
	echoEvict = 10
)

// echoSet remembers recently transmitted texts in insertion order so their
// echo from the server can be dropped once.
type echoSet struct {
	order []string
	seen  map[string]struct{}
}

func newEchoSet() *echoSet {
	return &echoSet{seen: make(map[string]struct{})}
}

func (s *echoSet) add(text string) {
	if _, ok := s.seen[text]; ok {
		return
	}
	s.seen[text] = struct{}{}
	s.order = append(s.order, text)
}

// consume removes text and reports whether it was present.
func (s *echoSet) consume(text string) bool {
	if _, ok := s.seen[text]; !ok {
		return false
	}
	delete(s.seen, text)
	if i := slices.Index(s.order, text); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// trim evicts the oldest entries once the set grows past its limit.
func (s *echoSet) trim() {
	if len(s.order) <= echoLimit {
		return
	}
	for _, text := range s.order[:echoEvict] {
		delete(s.seen, text)
	}
	s.order = slices.Delete(s.order, 0, echoEvict)
}

func (s *echoSet) clear() {
	s.order = nil
	clear(s.seen)
}

func (s *echoSet) len() int {
	return len(s.order)
}

package blocking

// IPSet is a set of addresses that remembers first-insertion order.
type IPSet struct {
	seen  map[string]struct{}
	order []string
}

func NewIPSet() *IPSet {
	return &IPSet{seen: make(map[string]struct{})}
}

// Add inserts ip and reports whether it was new. Empty strings are ignored.
func (s *IPSet) Add(ip string) bool {
	if ip == "" {
		return false
	}
	if _, ok := s.seen[ip]; ok {
		return false
	}
	s.seen[ip] = struct{}{}
	s.order = append(s.order, ip)
	return true
}

func (s *IPSet) Contains(ip string) bool {
	_, ok := s.seen[ip]
	return ok
}

func (s *IPSet) Len() int {
	return len(s.order)
}

func (s *IPSet) List() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

package keyserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/faanross/pngrsa/internal/rsakey"
)

// Record is one published key.
type Record struct {
	Name      string    `json:"name"` // fully qualified, lower case
	Bits      int       `json:"bits"`
	Txt       []string  `json:"txt"`
	CreatedAt time.Time `json:"created_at"`
	Served    int       `json:"served"`
}

// Stats counts store activity.
type Stats struct {
	Keys    int `json:"keys"`
	Queries int `json:"queries"`
	Misses  int `json:"misses"`
}

// Store keeps published keys in memory, keyed by owner name.
type Store struct {
	records map[string]*Record
	mu      sync.RWMutex
	stats   Stats
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

func canonical(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}

// Publish stores the public half of kp under name, replacing any key already
// published there.
func (s *Store) Publish(name string, kp *rsakey.KeyPair) (*Record, error) {
	if _, ok := dns.IsDomainName(name); !ok || name == "" || name == "." {
		return nil, fmt.Errorf("invalid owner name %q", name)
	}
	if kp == nil || kp.N() == nil || kp.E() == nil {
		return nil, fmt.Errorf("nothing to publish under %q", name)
	}

	rec := &Record{
		Name:      canonical(name),
		Bits:      kp.Bits(),
		Txt:       Encode(kp),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Name]; !exists {
		s.stats.Keys++
	}
	s.records[rec.Name] = rec
	return rec, nil
}

// Lookup returns the TXT strings published under name and counts the query.
func (s *Store) Lookup(name string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Queries++
	rec, ok := s.records[canonical(name)]
	if !ok {
		s.stats.Misses++
		return nil, false
	}
	rec.Served++
	return append([]string(nil), rec.Txt...), true
}

// Remove withdraws the key under name.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := canonical(name)
	if _, ok := s.records[key]; !ok {
		return false
	}
	delete(s.records, key)
	s.stats.Keys--
	return true
}

// List returns copies of all records sorted by name.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Expire removes keys published more than ttl ago and returns how many went.
func (s *Store) Expire(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for name, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, name)
			removed++
		}
	}
	s.stats.Keys -= removed
	return removed
}

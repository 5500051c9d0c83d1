// Package dedup suppresses re-processing of inbound bot messages that
// arrive more than once inside a short window, which is common with
// webhook retries.
package dedup

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"lifelog/app/config"

	"github.com/samber/do"
)

type entry struct {
	fingerprint string
	seenAt      time.Time
}

type Service struct {
	window  time.Duration
	maxSize int

	// now is swapped out in tests.
	now func() time.Time

	mu      sync.Mutex
	entries []entry
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		time.Duration(cfg.Bot.DedupWindowSeconds)*time.Second,
		cfg.Bot.DedupMaxSize,
	), nil
}

func NewService(window time.Duration, maxSize int) *Service {
	return &Service{
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// IsDuplicate reports whether the same logical message was already seen
// inside the window, recording its fingerprint when it was not. The
// check-and-insert sequence is one critical section: two concurrent
// duplicates must never both be classified as new.
func (s *Service) IsDuplicate(sender, text string) bool {
	now := s.now()
	fp := s.fingerprint(sender, text, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Entries are appended in arrival order, so expired ones sit at
	// the front.
	cutoff := now.Add(-s.window)
	idx := 0
	for idx < len(s.entries) && s.entries[idx].seenAt.Before(cutoff) {
		idx++
	}
	s.entries = s.entries[idx:]

	for _, e := range s.entries {
		if e.fingerprint == fp {
			return true
		}
	}

	s.entries = append(s.entries, entry{fingerprint: fp, seenAt: now})

	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}

	return false
}

// fingerprint is deliberately coarse: retries of the same logical
// message within the same hour collapse to one fingerprint even if
// exact send timestamps differ.
func (s *Service) fingerprint(sender, text string, now time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", sender, text, now.Format("2006010215"))))

	return hex.EncodeToString(sum[:])
}

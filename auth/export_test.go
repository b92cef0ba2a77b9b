package auth

import "time"

// SetClockForTest replaces the signer time source.
func (s *Signer) SetClockForTest(now func() time.Time) {
	s.now = now
}

package firestore

import "time"

// SetClock lets tests back-date registrations.
func (s *SubscriptionStore) SetClock(now func() time.Time) { s.now = now }

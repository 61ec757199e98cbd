package dispatch

// Caller identifies who triggered a broadcast. It is resolved once at the
// transport boundary and only used for attribution in the delivery log.
type Caller interface {
	SentBy() string
	caller()
}

// AdminUser is an authenticated human operator.
type AdminUser struct {
	ID string
}

func (a AdminUser) SentBy() string { return a.ID }
func (AdminUser) caller()          {}

// SystemScheduler is the scheduled (Pub/Sub driven) trigger.
type SystemScheduler struct{}

func (SystemScheduler) SentBy() string { return "system" }
func (SystemScheduler) caller()        {}

// Package transaction implements interactive transaction coordination: a
// caller opens a database transaction, issues an arbitrary number of
// operations against it over time, and later commits or rolls it back. Each
// transaction is owned by a single actor goroutine that serializes its
// operations, enforces an active-phase timeout, and keeps answering with a
// cached terminal state for a grace period after it closes.
package transaction

// Status is the in-memory state of one interactive transaction.
type Status int

const (
	StatusOpen       Status = iota // transaction is live, operations are being applied
	StatusAborted                  // engine shutdown rolled the transaction back
	StatusCommitted                // caller committed
	StatusRolledBack               // caller rolled back
	StatusExpired                  // active-phase timeout rolled the transaction back
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusAborted:
		return "Aborted"
	case StatusCommitted:
		return "Committed"
	case StatusRolledBack:
		return "RolledBack"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further database operation is possible.
func (s Status) Terminal() bool {
	return s != StatusOpen
}

// cachedTx is the actor's view of its transaction: the current status plus,
// while open, the owned resources. Exactly one cachedTx exists per
// transaction; it moves through states in place and is never duplicated.
type cachedTx struct {
	status Status
	open   *OpenTx
}

// asOpen is the single choke point that prevents any database operation
// from reaching a transaction that has already finished.
func (c *cachedTx) asOpen() (*OpenTx, error) {
	if c.status != StatusOpen {
		return nil, &ClosedError{Reason: c.status.String()}
	}
	return c.open, nil
}

// finish records a terminal status and drops the open resources. The
// OpenTx must already have been torn down by the caller.
func (c *cachedTx) finish(s Status) {
	c.status = s
	c.open = nil
}

package transaction

import "github.com/google/uuid"

// ID is the opaque bearer token identifying one interactive transaction.
// It is immutable for the transaction's lifetime and used as the registry
// key.
type ID string

// NewID generates a fresh transaction identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

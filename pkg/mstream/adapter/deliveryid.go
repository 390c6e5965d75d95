package adapter

import "github.com/google/uuid"

// deliveryID synthesizes an opaque delivery id for sinks whose underlying
// transport does not hand one back (e.g. plain HTTP).
func deliveryID() string {
	return uuid.New().String()
}

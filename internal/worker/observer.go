package worker

import "offline0/internal/fetch"

// Observer receives counters from the worker. Implementations must be safe
// for concurrent use.
type Observer interface {
	Fetch(strategy string, source fetch.Source)
	Fallback(dest fetch.Destination)
	CachePut(result string)
	SelfCheck(result string)
	ResponseSize(n int)
}

const (
	PutStored   = "stored"
	PutRejected = "rejected"
	PutError    = "error"

	CheckOK       = "ok"
	CheckReseeded = "reseeded"
	CheckError    = "error"
)

type nopObserver struct{}

func (nopObserver) Fetch(string, fetch.Source) {}
func (nopObserver) Fallback(fetch.Destination) {}
func (nopObserver) CachePut(string) {}
func (nopObserver) SelfCheck(string) {}
func (nopObserver) ResponseSize(int) {}

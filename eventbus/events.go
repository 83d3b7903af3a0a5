package eventbus

// Event names published across feedsync. Payload types are owned by the
// publishing package (feed, gate, nav).
const (
	DataLoading   = "data:loading"
	DataReady     = "data:ready"
	DataRefreshed = "data:refreshed"
	DataError     = "data:error"

	GateAwaiting = "gate:awaiting"
	GateMismatch = "gate:mismatch"
	GateOpen     = "gate:open"

	NavChanged   = "nav:changed"
	NavScroll    = "nav:scroll"
	PageRendered = "page:rendered"
)

// All lists every event name above, in declaration order.
func All() []string {
	return []string{
		DataLoading, DataReady, DataRefreshed, DataError,
		GateAwaiting, GateMismatch, GateOpen,
		NavChanged, NavScroll, PageRendered,
	}
}

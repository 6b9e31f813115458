package consensusobserver

// Publisher is the sibling role (spec §1, §6) that re-serves this
// observer's data to downstream followers; only its touch points are
// specified here. When PublisherEnabled, inbound Subscribe/Unsubscribe
// requests from downstream peers are forwarded to it verbatim.
type Publisher interface {
	HandleRequest(ev RequestEvent)
}

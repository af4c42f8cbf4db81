package services

// Admin live feed event types
const (
	EventSerpAPIProgress   = "serpapi.progress"
	EventClaimCreated      = "claim.created"
	EventRechargeConfirmed = "recharge.confirmed"
)

// EventPublisher fans events out to connected admin clients.
type EventPublisher interface {
	Publish(eventType string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

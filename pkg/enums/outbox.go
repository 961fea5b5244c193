package enums

// OutboxStatus tracks delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

func (s OutboxStatus) String() string {
	return string(s)
}

// OutboxEventType names a domain event emitted through the outbox.
type OutboxEventType string

const (
	OutboxEventOrderCompleted       OutboxEventType = "order.completed"
	OutboxEventOrderAwaitingPayment OutboxEventType = "order.awaiting_payment"
)

func (t OutboxEventType) String() string {
	return string(t)
}

// AggregateType names the entity an outbox event belongs to.
type AggregateType string

const (
	AggregateOrder AggregateType = "order"
)

func (t AggregateType) String() string {
	return string(t)
}

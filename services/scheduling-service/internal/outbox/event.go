package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Topics emitted by the scheduling engine. Delivery and formatting are the
// notification dispatcher's concern.
const (
	EventReservationCreated   = "scheduling.reservation.created.v1"
	EventReservationConfirmed = "scheduling.reservation.confirmed.v1"
	EventReservationCancelled = "scheduling.reservation.cancelled.v1"
	EventReservationCompleted = "scheduling.reservation.completed.v1"
)

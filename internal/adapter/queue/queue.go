package queue

// MessageQueue is the transport behind the protocol event sink. Subjects are
// dot-separated ("ocpi.commands.dispatched").
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

package brokers

// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
const DeadLetterSuffix = ".dlq"

// RedeliveryPolicy decides what happens to a message whose transaction rolled
// back. MaxRedeliveries < 0 means it is always requeued.
type RedeliveryPolicy struct {
	MaxRedeliveries int
}

// DefaultRedeliveryPolicy requeues forever.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{MaxRedeliveries: -1}
}

// ShouldDeadLetter reports whether a rolled-back message that has been
// delivered deliveryCount times has used up its redeliveries.
func (p RedeliveryPolicy) ShouldDeadLetter(deliveryCount int) bool {
	return p.MaxRedeliveries >= 0 && deliveryCount > p.MaxRedeliveries
}

// DeadLetterQueue returns the dead-letter queue for queue.
func DeadLetterQueue(queue string) string {
	return queue + DeadLetterSuffix
}

// PolicyOrDefault returns *p, or the default policy when p is nil.
func PolicyOrDefault(p *RedeliveryPolicy) RedeliveryPolicy {
	if p == nil {
		return DefaultRedeliveryPolicy()
	}
	return *p
}

package products

import "strconv"

const (
	TopicProductCreated       = "product.created"
	TopicProductStatusChanged = "product.status.changed"
)

// Topics lists every topic the tracker publishes to.
func Topics() []string {
	return []string{TopicProductCreated, TopicProductStatusChanged}
}

// TopicFor maps an event type to its topic.
func TopicFor(eventType string) string {
	if eventType == EventProductCreated {
		return TopicProductCreated
	}
	return TopicProductStatusChanged
}

// PartitionKey keeps all events of one product on one partition, in order.
func PartitionKey(id uint64) []byte { return []byte(strconv.FormatUint(id, 10)) }

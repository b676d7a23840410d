package orders

const (
	TopicOrderEvents      = "orders.events"
	TopicInventoryAdjust  = "inventory.adjustments"
	TopicFraudChecks      = "fraud.checks"
	TopicOrderChangeFeed  = "orders.changefeed"
	TopicRefundRequests   = "payments.refunds"
	TopicFraudReview      = "fraud.review"
	TopicOrderArchive     = "orders.archive"
	RetryTopicSuffix      = ".retry"
	DeadLetterTopicSuffix = ".dlq"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// Retries and dead letters belong to one consumer group: several groups may read the
// same source topic and must not see each other's failures.
func RetryTopic(topic, group string) string { return topic + "." + group + RetryTopicSuffix }

func DeadLetterTopic(topic, group string) string { return topic + "." + group + DeadLetterTopicSuffix }

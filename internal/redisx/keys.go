package redisx

import "time"

const (
	// Dedup of consumed messages: dedup:{consumer}:{id}
	KeyDedup = "dedup:%s:%s"

	// Recent orders of a customer, newest first: customer:{customer_id}:orders
	KeyCustomerOrders = "customer:%s:orders"

	// Per-order analytics record: analytics:order:{order_id}
	KeyOrderMetrics = "analytics:order:%s"

	// Daily aggregate per customer: analytics:daily:{yyyy-mm-dd}:{customer_id}
	KeyDailyMetrics = "analytics:daily:%s:%s"
)

var (
	TTLDedup         = 48 * time.Hour
	TTLCustomerCache = 24 * time.Hour
	TTLOrderMetrics  = 30 * 24 * time.Hour
	TTLDailyMetrics  = 90 * 24 * time.Hour
)

// CustomerCacheSize matches the page size of GET /orders.
const CustomerCacheSize = 20

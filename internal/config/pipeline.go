package config

import "time"

const (
	// Access gate
	RechargeWindow = 24 * time.Hour

	// Durable queue
	JobStream         = "chat:jobs"
	DeadLetterStream  = "chat:jobs:dead"
	ConsumerGroup     = "chat-workers"
	RedeliveryDelay   = 30 * time.Second
	MaxDeliveries     = 5
	ConsumeBlock      = 5 * time.Second
	ConsumeBatch      = 16
	DeadLetterListMax = 100

	// Delivery confirmations (Redis Pub/Sub)
	DeliveriesChannel = "chat:deliveries"

	// Retries
	EnqueueMaxRetries    = 3
	StoreRetryMaxElapsed = 5 * time.Second
	RetryInitialInterval = 100 * time.Millisecond

	// Gateway
	SendRatePerMinute = 120
	SendBurst         = 20

	// API
	TokenTTL    = 72 * time.Hour
	TokenIssuer = "gigchat-service"
)

// Delivery modes for the gateway.
const (
	// DeliveryFast broadcasts before the job is queued.
	DeliveryFast = "fast"
	// DeliveryDurable broadcasts only once the job is queued.
	DeliveryDurable = "durable"
)

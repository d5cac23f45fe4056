package repository

// Bus topics shared by publishers and the worker.
const (
	TopicKeyDebited     = "ledger.key_debited"
	TopicBatchCompleted = "gifts.completed"
	TopicGiftCommand    = "commands.gift"
)

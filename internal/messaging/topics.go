package messaging

// Topics poolclean publishes to
const (
	TopicCleanup = "poolclean.cleanup" // one event per run
	TopicSweep   = "poolclean.sweep"   // one event per dust sweep that moved value
)

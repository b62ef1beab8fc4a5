package config

const (
	// TopicIngestContent is the NSQ topic for background content ingestion tasks.
	TopicIngestContent = "ingest.content"

	// ChannelIngestWorker is the NSQ channel the ingestion workers share.
	ChannelIngestWorker = "worker"
)

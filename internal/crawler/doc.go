// Package crawler defines the types shared by every stage of ingestion: seed
// descriptors and per-crawl knobs, raw records and their derived features,
// and the gateway interfaces behind which storage, transport, archiving and
// notification live.
package crawler

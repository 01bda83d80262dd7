package core

import "pkt.systems/nbexec/schema"

// EventSink receives chunk output events from the coordinator.
type EventSink interface {
	OnChunkOutput(event schema.ChunkOutputEvent)
	OnChunkOutputFinished(event schema.ChunkOutputFinishedEvent)
}

package nbexec

import (
	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnChunkOutput(event schema.ChunkOutputEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnChunkOutput(event)
	}
}

func (f eventFanout) OnChunkOutputFinished(event schema.ChunkOutputFinishedEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnChunkOutputFinished(event)
	}
}

package handler

import (
	"context"
	"time"
)

// watchWithHeartbeat runs watch while sending heartbeats on stream. A
// failed heartbeat means the client is gone and cancels watch.
func watchWithHeartbeat(ctx context.Context, stream *sseStream, watch func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		heartbeat := time.NewTicker(HeartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if err := stream.heartbeat(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err := watch(ctx)
	cancel()
	<-done
	return err
}

package clubapi

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Worker delivers progress updates in the background so the playback
// loop never waits on the network. A full queue drops the oldest-first
// guarantee in favor of never blocking: the update is discarded with a
// warning and the next periodic save carries the fresher position.
type Worker struct {
	client    *Client
	updates   chan ProgressUpdate
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWorker starts the delivery goroutine.
func NewWorker(client *Client, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	w := &Worker{
		client:  client,
		updates: make(chan ProgressUpdate, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Push enqueues an update without blocking.
func (w *Worker) Push(update ProgressUpdate) {
	select {
	case <-w.quit:
		return
	default:
	}

	select {
	case w.updates <- update:
	default:
		zlog.Warn().Msgf("sync queue full, dropping progress update: episode=%s position=%.1f",
			update.EpisodeID, update.Position)
	}
}

// Close stops the worker after draining buffered updates.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			for {
				select {
				case update := <-w.updates:
					w.deliver(update)
				default:
					return
				}
			}
		case update := <-w.updates:
			w.deliver(update)
		}
	}
}

func (w *Worker) deliver(update ProgressUpdate) {
	if err := w.client.PushProgress(context.Background(), update); err != nil {
		zlog.Warn().Err(err).Msgf("failed to sync progress: episode=%s", update.EpisodeID)
		return
	}
	zlog.Debug().Msgf("synced progress: episode=%s position=%.1f finished=%t",
		update.EpisodeID, update.Position, update.Finished)
}

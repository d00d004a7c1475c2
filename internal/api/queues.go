package api

import (
	"sync"

	"vintagemap/internal/auth"
	"vintagemap/internal/ingest"
	"vintagemap/internal/strava"
)

type sessionQueue struct {
	queue  *ingest.Queue
	sink   *ingest.MemorySink
	tokens *auth.TokenStore
}

// queueRegistry holds one ingestion queue and map per session
type queueRegistry struct {
	cfg ingest.Config

	mu     sync.Mutex
	queues map[string]*sessionQueue
}

func newQueueRegistry(cfg ingest.Config) *queueRegistry {
	return &queueRegistry{cfg: cfg, queues: make(map[string]*sessionQueue)}
}

// get returns the session's queue. A queue created for an older token store is
// replaced, since the session was re-linked.
func (r *queueRegistry) get(sessionID string, tokens *auth.TokenStore, client *strava.Client) *sessionQueue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sq, ok := r.queues[sessionID]; ok && sq.tokens == tokens {
		return sq
	} else if ok {
		sq.queue.Abort()
	}

	sink := ingest.NewMemorySink()
	sq := &sessionQueue{
		queue:  ingest.NewQueue(client.ForSession(tokens), sink, r.cfg),
		sink:   sink,
		tokens: tokens,
	}
	r.queues[sessionID] = sq
	return sq
}

// drop aborts and forgets a session's queue
func (r *queueRegistry) drop(sessionID string) {
	r.mu.Lock()
	sq, ok := r.queues[sessionID]
	delete(r.queues, sessionID)
	r.mu.Unlock()
	if ok {
		sq.queue.Abort()
	}
}

func (r *queueRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// Package ingest drains a batch of activity IDs into a map sink, one at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vintagemap/internal/logging"
	"vintagemap/internal/metrics"
	"vintagemap/internal/strava"
	"vintagemap/internal/track"
)

const (
	DefaultPause            = 500 * time.Millisecond
	DefaultConfirmThreshold = 10
)

var (
	// ErrBusy is returned when a run is already draining
	ErrBusy = errors.New("already loading activities")
	// ErrNoActivities is returned for an empty batch
	ErrNoActivities = errors.New("no activities selected")
)

// Fetcher retrieves telemetry for one activity
type Fetcher interface {
	FetchTelemetry(ctx context.Context, id int64) (*strava.Telemetry, error)
}

// State is the queue lifecycle
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Progress is reported after every dequeue
type Progress struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// ItemError records one failed activity
type ItemError struct {
	ActivityID int64  `json:"activity_id"`
	Error      string `json:"error"`
}

// Summary is the outcome of a run
type Summary struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Total     int         `json:"total"`
	Aborted   bool        `json:"aborted,omitempty"`
	Message   string      `json:"message"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Status is a point-in-time view of the queue
type Status struct {
	State     string `json:"state"`
	Pending   int    `json:"pending"`
	InFlight  int64  `json:"in_flight,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Loaded    int    `json:"loaded"`
	Message   string `json:"message,omitempty"`
}

// ProgressFunc receives progress updates
type ProgressFunc func(Progress)

// Config tunes pacing and confirmation
type Config struct {
	Pause            time.Duration
	ConfirmThreshold int
}

// Queue is the per-session ingestion pipeline
type Queue struct {
	fetcher   Fetcher
	sink      Sink
	pause     time.Duration
	threshold int
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger

	mu        sync.Mutex
	state     State
	pending   []int64
	inFlight  int64
	processed int
	total     int
	succeeded int
	failed    int
	message   string
	loaded    map[int64]*track.Track

	events broadcaster
}

// NewQueue creates an idle queue
func NewQueue(f Fetcher, sink Sink, cfg Config) *Queue {
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.ConfirmThreshold <= 0 {
		cfg.ConfirmThreshold = DefaultConfirmThreshold
	}
	return &Queue{
		fetcher:   f,
		sink:      sink,
		pause:     cfg.Pause,
		threshold: cfg.ConfirmThreshold,
		sleep:     sleepCtx,
		log:       logging.With("ingest"),
		loaded:    make(map[int64]*track.Track),
	}
}

// NeedsConfirmation reports whether a batch of n must be confirmed by the user first
func (q *Queue) NeedsConfirmation(n int) bool {
	return n > q.threshold
}

// EstimatedDuration is the pacing time a batch of n will spend
func (q *Queue) EstimatedDuration(n int) time.Duration {
	return time.Duration(n) * q.pause
}

// EstimatedSeconds rounds EstimatedDuration to whole seconds
func (q *Queue) EstimatedSeconds(n int) int {
	return int(math.Round(q.EstimatedDuration(n).Seconds()))
}

// ConfirmPrompt is the question shown before a large batch
func (q *Queue) ConfirmPrompt(n int) string {
	return fmt.Sprintf("You've selected %d activities. This may take %d seconds. Continue?", n, q.EstimatedSeconds(n))
}

// Run drains ids and blocks until the batch is done
func (q *Queue) Run(ctx context.Context, ids []int64, progress ProgressFunc) (Summary, error) {
	if err := q.admit(ids); err != nil {
		return Summary{}, err
	}
	return q.drain(ctx, progress), nil
}

// Start admits ids and drains them in the background.
// The returned channel yields the summary once.
func (q *Queue) Start(ctx context.Context, ids []int64, progress ProgressFunc) (<-chan Summary, error) {
	if err := q.admit(ids); err != nil {
		return nil, err
	}
	done := make(chan Summary, 1)
	go func() {
		done <- q.drain(ctx, progress)
		close(done)
	}()
	return done, nil
}

func (q *Queue) admit(ids []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == Running {
		return ErrBusy
	}
	if len(ids) == 0 {
		return ErrNoActivities
	}

	q.state = Running
	q.pending = append([]int64(nil), ids...)
	q.total = len(ids)
	q.processed, q.succeeded, q.failed = 0, 0, 0
	q.message = ""
	return nil
}

func (q *Queue) drain(ctx context.Context, progress ProgressFunc) Summary {
	metrics.IngestRunsActive.Inc()
	defer metrics.IngestRunsActive.Dec()

	var itemErrs []ItemError
	aborted := false

	for {
		id, p, ok := q.dequeue()
		if !ok {
			break
		}
		q.report(progress, p)

		err := q.process(ctx, id)

		q.mu.Lock()
		q.inFlight = 0
		if err != nil {
			q.failed++
			itemErrs = append(itemErrs, ItemError{ActivityID: id, Error: err.Error()})
		} else {
			q.succeeded++
		}
		more := len(q.pending) > 0
		q.mu.Unlock()

		if err != nil {
			metrics.IngestItems.WithLabelValues("failed").Inc()
			q.log.Warn().Err(err).Int64("activity_id", id).Msg("activity failed to load")
		}

		if !more {
			break
		}
		if err := q.sleep(ctx, q.pause); err != nil {
			q.Abort()
			aborted = true
			break
		}
	}

	q.mu.Lock()
	s := Summary{
		Succeeded: q.succeeded,
		Failed:    q.failed,
		Total:     q.total,
		Aborted:   aborted || q.processed < q.total,
		Errors:    itemErrs,
	}
	s.Message = summaryMessage(s)
	q.message = s.Message
	q.pending = nil
	q.state = Idle
	q.mu.Unlock()

	if s.Succeeded > 0 {
		q.sink.FitBounds()
	}

	q.log.Info().Int("succeeded", s.Succeeded).Int("failed", s.Failed).Int("total", s.Total).Msg("ingestion run finished")
	q.events.publish(Event{Type: EventSummary, Summary: &s})
	return s
}

func (q *Queue) dequeue() (int64, Progress, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return 0, Progress{}, false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = id
	q.processed++

	p := Progress{
		Processed: q.processed,
		Total:     q.total,
		Message:   fmt.Sprintf("Loading activity %d/%d...", q.processed, q.total),
	}
	q.message = p.Message
	return id, p, true
}

func (q *Queue) report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
	q.events.publish(Event{Type: EventProgress, Progress: &p})
}

// process loads one activity. Activities already on the map are not fetched again.
func (q *Queue) process(ctx context.Context, id int64) error {
	q.mu.Lock()
	_, seen := q.loaded[id]
	q.mu.Unlock()
	if seen {
		metrics.IngestItems.WithLabelValues("cached").Inc()
		return nil
	}

	tel, err := q.fetcher.FetchTelemetry(ctx, id)
	if err != nil {
		return err
	}
	t, err := track.ToPointSequence(tel.Detail, tel.Streams)
	if err != nil {
		return fmt.Errorf("converting activity %d: %w", id, err)
	}
	if t.ID == 0 {
		t.ID = id
	}
	if err := q.sink.AddTrack(t); err != nil {
		return fmt.Errorf("adding activity %d to map: %w", id, err)
	}

	q.mu.Lock()
	q.loaded[id] = t
	q.mu.Unlock()
	metrics.IngestItems.WithLabelValues("loaded").Inc()
	return nil
}

// Import adds an already converted track, such as one parsed from an uploaded GPX file
func (q *Queue) Import(t *track.Track) error {
	if err := q.sink.AddTrack(t); err != nil {
		return err
	}
	if t.ID != 0 {
		q.mu.Lock()
		q.loaded[t.ID] = t
		q.mu.Unlock()
	}
	q.sink.FitBounds()
	return nil
}

// Abort drops pending work. The activity being fetched still finishes.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// Clear forgets every loaded activity and empties the sink
func (q *Queue) Clear() {
	q.mu.Lock()
	q.loaded = make(map[int64]*track.Track)
	q.mu.Unlock()
	q.sink.Clear()
}

// Loaded reports whether an activity is already on the map
func (q *Queue) Loaded(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.loaded[id]
	return ok
}

// Track returns a loaded track
func (q *Queue) Track(id int64) (*track.Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.loaded[id]
	return t, ok
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		State:     q.state.String(),
		Pending:   len(q.pending),
		InFlight:  q.inFlight,
		Processed: q.processed,
		Total:     q.total,
		Succeeded: q.succeeded,
		Failed:    q.failed,
		Loaded:    len(q.loaded),
		Message:   q.message,
	}
}

// State returns the lifecycle state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Subscribe streams progress and summary events until cancel is called
func (q *Queue) Subscribe() (<-chan Event, func()) {
	return q.events.subscribe()
}

// Sink returns the queue's map sink
func (q *Queue) Sink() Sink {
	return q.sink
}

func summaryMessage(s Summary) string {
	if s.Failed == 0 && !s.Aborted {
		return fmt.Sprintf("Successfully loaded all %d activities", s.Succeeded)
	}
	return fmt.Sprintf("Loaded %d activities. %d failed.", s.Succeeded, s.Failed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

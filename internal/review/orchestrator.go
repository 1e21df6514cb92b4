// Package review runs review cycles: one streamed completion per request,
// mirrored into the thread store as it arrives.
//
// At most one cycle is in flight per Orchestrator. Starting another cancels
// the previous one; from that point the previous cycle writes nothing more
// to the store. Its partial reply stays as last written.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/prompt"
	"github.com/hpungsan/critique/internal/response"
	"github.com/hpungsan/critique/internal/store"
	"github.com/hpungsan/critique/internal/thread"
)

// ApologyMessage replaces the reply of a cycle that failed.
const ApologyMessage = "Sorry, an error occurred while generating the response. Please try again."

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadResolved = errors.New("thread is resolved")
	ErrNothingToRetry = errors.New("no previous review to retry")
)

// Options describes one review cycle.
type Options struct {
	ThreadID     string
	Action       thread.Action
	CustomPrompt string
	// FollowUp replays the thread history instead of a fresh prompt.
	FollowUp bool
	// OnChunk, if set, observes each text delta after it is stored.
	OnChunk func(chunk string)
}

// State is the observable status of the orchestrator.
type State struct {
	Streaming bool   `json:"streaming"`
	Error     string `json:"error,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Result is the outcome of a finished cycle.
type Result struct {
	ThreadID     string              `json:"thread_id"`
	MessageID    string              `json:"message_id"`
	Content      string              `json:"content"`
	Suggestions  []thread.Suggestion `json:"suggestions,omitempty"`
	OutsideNotes []string            `json:"outside_notes,omitempty"`
	// Cancelled is set when the cycle was superseded or aborted.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Job is a started cycle.
type Job struct {
	ThreadID  string
	MessageID string

	done   chan struct{}
	result *Result
	err    error
}

// Done is closed when the cycle finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the cycle finishes.
func (j *Job) Wait() (*Result, error) {
	<-j.done
	return j.result, j.err
}

// Orchestrator coordinates review cycles against one store.
type Orchestrator struct {
	store  *store.Store
	client completion.Client

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
	last   *Options
}

// New creates an orchestrator.
func New(s *store.Store, client completion.Client) *Orchestrator {
	return &Orchestrator{store: s, client: client}
}

// State returns the current status.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run starts a cycle and waits for it.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	job, err := o.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return job.Wait()
}

// Start cancels any cycle in flight, adds an empty assistant message to the
// thread and streams the reply into it in the background. ctx bounds the
// stream.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (*Job, error) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	gen := o.gen
	last := opts
	o.last = &last
	o.state = State{}
	o.mu.Unlock()

	snap := o.store.Snapshot()
	t := snap.Thread(opts.ThreadID)
	if t == nil {
		o.fail(gen, opts.ThreadID, "", ErrThreadNotFound)
		return nil, ErrThreadNotFound
	}
	if t.Status == thread.StatusResolved {
		o.fail(gen, opts.ThreadID, "", ErrThreadResolved)
		return nil, ErrThreadResolved
	}

	// t is the thread as it was before the pending reply.
	req := prompt.Build(t, snap.Document, opts.Action, opts.CustomPrompt, opts.FollowUp)

	runCtx, cancel := context.WithCancel(ctx)
	var messageID string
	if !o.write(gen, func() {
		messageID = o.store.AddMessage(opts.ThreadID, thread.RoleAssistant, "")
		if messageID != "" {
			o.cancel = cancel
			o.state = State{Streaming: true, ThreadID: opts.ThreadID, MessageID: messageID}
		}
	}) {
		cancel()
		return nil, context.Canceled
	}
	if messageID == "" {
		// resolved or deleted between snapshot and write
		cancel()
		return nil, ErrThreadNotFound
	}

	log.Debug().
		Str("thread_id", opts.ThreadID).
		Str("message_id", messageID).
		Str("action", string(opts.Action)).
		Bool("follow_up", opts.FollowUp).
		Str("client", o.client.Name()).
		Msg("Review started")

	job := &Job{ThreadID: opts.ThreadID, MessageID: messageID, done: make(chan struct{})}
	go func() {
		defer close(job.done)
		defer cancel()
		job.result, job.err = o.stream(runCtx, gen, opts, t.OriginalCode, messageID, req)
	}()
	return job, nil
}

func (o *Orchestrator) stream(ctx context.Context, gen uint64, opts Options, originalCode, messageID string, req completion.Request) (*Result, error) {
	result := &Result{ThreadID: opts.ThreadID, MessageID: messageID}

	var content strings.Builder
	err := o.client.Stream(ctx, req, func(chunk string) error {
		content.WriteString(chunk)
		text := content.String()
		if !o.write(gen, func() {
			o.store.UpdateMessageContent(opts.ThreadID, messageID, text)
		}) {
			return context.Canceled
		}
		if opts.OnChunk != nil {
			opts.OnChunk(chunk)
		}
		return nil
	})
	result.Content = content.String()

	if err != nil {
		if completion.IsCancelled(err) || !o.isCurrent(gen) {
			log.Debug().Str("thread_id", opts.ThreadID).Msg("Review cancelled")
			result.Cancelled = true
			o.settle(gen, State{})
			return result, nil
		}

		log.Error().Err(err).
			Str("thread_id", opts.ThreadID).
			Str("client", o.client.Name()).
			Msg("Review failed")
		result.Content = ApologyMessage
		o.write(gen, func() {
			o.store.UpdateMessageContent(opts.ThreadID, messageID, ApologyMessage)
			o.state = State{Error: err.Error(), ThreadID: opts.ThreadID, MessageID: messageID}
			o.cancel = nil
		})
		return result, fmt.Errorf("review %s: %w", opts.ThreadID, err)
	}

	parsed := response.Parse(result.Content, originalCode)
	if !o.write(gen, func() {
		if len(parsed.Suggestions) > 0 {
			o.store.SetMessageSuggestions(opts.ThreadID, messageID, parsed.Suggestions)
		}
		if len(parsed.OutsideNotes) > 0 {
			o.store.SetMessageOutsideNotes(opts.ThreadID, messageID, parsed.OutsideNotes)
		}
		o.state = State{}
		o.cancel = nil
	}) {
		result.Cancelled = true
		return result, nil
	}
	result.Suggestions = parsed.Suggestions
	result.OutsideNotes = parsed.OutsideNotes

	log.Debug().
		Str("thread_id", opts.ThreadID).
		Int("chars", len(result.Content)).
		Int("suggestions", len(parsed.Suggestions)).
		Int("outside_notes", len(parsed.OutsideNotes)).
		Msg("Review finished")
	return result, nil
}

// Abort cancels the cycle in flight, if any. Its partial reply is kept.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.gen++
	o.state = State{}
}

// Retry starts the most recent cycle again with a new assistant message.
func (o *Orchestrator) Retry(ctx context.Context) (*Job, error) {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	if last == nil {
		return nil, ErrNothingToRetry
	}
	return o.Start(ctx, *last)
}

// write runs fn under the orchestrator lock if gen is still the current
// cycle, and reports whether it ran.
func (o *Orchestrator) write(gen uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen
}

func (o *Orchestrator) settle(gen uint64, st State) {
	o.write(gen, func() {
		o.state = st
		o.cancel = nil
	})
}

func (o *Orchestrator) fail(gen uint64, threadID, messageID string, err error) {
	o.settle(gen, State{Error: err.Error(), ThreadID: threadID, MessageID: messageID})
}

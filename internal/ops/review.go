package ops

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/review"
	"github.com/hpungsan/critique/internal/session"
	"github.com/hpungsan/critique/internal/thread"
)

// ReviewInput contains parameters for the Review operation.
type ReviewInput struct {
	ThreadID     string
	Action       string
	CustomPrompt string
	OnChunk      func(chunk string)
}

// Review asks for a fresh review of a thread's range and waits for it.
func Review(ctx context.Context, sess *session.Session, input ReviewInput) (*review.Result, error) {
	opts, err := reviewOptions(sess, input)
	if err != nil {
		return nil, err
	}
	return runReview(ctx, sess, opts)
}

// FollowUpInput contains parameters for the FollowUp operation.
type FollowUpInput struct {
	ThreadID string
	Message  string
	OnChunk  func(chunk string)
}

// FollowUp adds a user message to a thread and answers it in context.
func FollowUp(ctx context.Context, sess *session.Session, input FollowUpInput) (*review.Result, error) {
	opts, err := followUpOptions(sess, input)
	if err != nil {
		return nil, err
	}
	return runReview(ctx, sess, opts)
}

// ReviewJob identifies a review started in the background.
type ReviewJob struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// StartReview is Review without waiting. The reply streams into the store
// and the session is saved when it ends. ctx bounds the stream.
func StartReview(ctx context.Context, sess *session.Session, input ReviewInput) (*ReviewJob, error) {
	opts, err := reviewOptions(sess, input)
	if err != nil {
		return nil, err
	}
	return startReview(ctx, sess, opts)
}

// StartFollowUp is FollowUp without waiting.
func StartFollowUp(ctx context.Context, sess *session.Session, input FollowUpInput) (*ReviewJob, error) {
	opts, err := followUpOptions(sess, input)
	if err != nil {
		return nil, err
	}
	return startReview(ctx, sess, opts)
}

// AbortReview stops the review in flight, keeping what has streamed.
func AbortReview(ctx context.Context, sess *session.Session) error {
	if !sess.Streaming() {
		return nil
	}
	o, err := sess.Reviews()
	if err != nil {
		return err
	}
	o.Abort()
	return flush(ctx, sess)
}

// RetryReview starts the most recent review again with a fresh reply.
func RetryReview(ctx context.Context, sess *session.Session) (*ReviewJob, error) {
	o, err := sess.Reviews()
	if err != nil {
		return nil, err
	}
	job, err := o.Retry(ctx)
	if stderrors.Is(err, review.ErrNothingToRetry) {
		return nil, errors.NewInvalidRequest("there is no review to retry")
	}
	if err != nil {
		return nil, reviewError(err, "")
	}
	go flushWhenDone(ctx, sess, job)
	return &ReviewJob{ThreadID: job.ThreadID, MessageID: job.MessageID}, nil
}

func reviewOptions(sess *session.Session, input ReviewInput) (review.Options, error) {
	t, err := requireOpen(sess, input.ThreadID)
	if err != nil {
		return review.Options{}, err
	}
	action, err := parseAction(input.Action, input.CustomPrompt)
	if err != nil {
		return review.Options{}, err
	}
	return review.Options{
		ThreadID:     t.ID,
		Action:       action,
		CustomPrompt: strings.TrimSpace(input.CustomPrompt),
		OnChunk:      input.OnChunk,
	}, nil
}

func followUpOptions(sess *session.Session, input FollowUpInput) (review.Options, error) {
	t, err := requireOpen(sess, input.ThreadID)
	if err != nil {
		return review.Options{}, err
	}
	text := strings.TrimSpace(input.Message)
	if text == "" {
		return review.Options{}, errors.NewInvalidRequest("message is required")
	}
	// no client means no reply, so keep the question out of the thread
	if _, err := sess.Reviews(); err != nil {
		return review.Options{}, err
	}
	if sess.Store.AddMessage(t.ID, thread.RoleUser, text) == "" {
		return review.Options{}, errors.NewNotFound("thread", t.ID)
	}
	return review.Options{
		ThreadID:     t.ID,
		Action:       thread.ActionCustom,
		CustomPrompt: text,
		FollowUp:     true,
		OnChunk:      input.OnChunk,
	}, nil
}

func runReview(ctx context.Context, sess *session.Session, opts review.Options) (*review.Result, error) {
	o, err := sess.Reviews()
	if err != nil {
		return nil, err
	}

	res, runErr := o.Run(ctx, opts)
	// the apology or partial reply is worth keeping even when the run failed
	if err := flush(context.WithoutCancel(ctx), sess); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, reviewError(runErr, opts.ThreadID)
	}
	if res.Cancelled {
		return nil, errors.NewCancelled()
	}
	return res, nil
}

func startReview(ctx context.Context, sess *session.Session, opts review.Options) (*ReviewJob, error) {
	o, err := sess.Reviews()
	if err != nil {
		return nil, err
	}
	job, err := o.Start(ctx, opts)
	if err != nil {
		return nil, reviewError(err, opts.ThreadID)
	}

	go flushWhenDone(ctx, sess, job)
	return &ReviewJob{ThreadID: job.ThreadID, MessageID: job.MessageID}, nil
}

// flushWhenDone saves the session once a background review settles.
func flushWhenDone(ctx context.Context, sess *session.Session, job *review.Job) {
	if _, err := job.Wait(); err != nil {
		log.Debug().Err(err).Str("thread_id", job.ThreadID).Msg("Background review ended with error")
	}
	if err := sess.Flush(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Str("session", sess.Name).Msg("Failed to save session after review")
	}
}

// reviewError maps orchestrator errors onto the error taxonomy.
func reviewError(err error, threadID string) error {
	var cErr *completion.Error
	switch {
	case stderrors.Is(err, review.ErrThreadNotFound):
		return errors.NewNotFound("thread", threadID)
	case stderrors.Is(err, review.ErrThreadResolved):
		return errors.NewThreadResolved(threadID)
	case completion.IsCancelled(err):
		return errors.NewCancelled()
	case stderrors.As(err, &cErr):
		return errors.NewProviderError(cErr.Provider, cErr.Err)
	default:
		return errors.NewProviderError("completion", err)
	}
}

// Package queue defines the batch contract shared by every consumer: a batch of
// at-least-once delivered messages in, a report with per-message failures out.
// The transport decides what happens to failed messages (redelivery or dead-letter).
package queue

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Message struct {
	ID      string
	Topic   string
	Key     []byte
	Body    []byte
	Attempt int // 1 on first delivery
}

type Failure struct {
	MessageID string
	Err       error
}

type Report struct {
	Processed int
	Failures  []Failure
	Counters  map[string]int
}

type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []Message) Report
}

type HandlerFunc func(ctx context.Context, msgs []Message) Report

func (f HandlerFunc) HandleBatch(ctx context.Context, msgs []Message) Report { return f(ctx, msgs) }

func (r *Report) Inc(counter string) {
	if r.Counters == nil {
		r.Counters = map[string]int{}
	}
	r.Counters[counter]++
}

func (r *Report) Fail(m Message, err error) {
	r.Failures = append(r.Failures, Failure{MessageID: m.ID, Err: err})
}

func (r Report) Failed() int { return len(r.Failures) }

func (r Report) Succeeded() int { return r.Processed - len(r.Failures) }

func (r Report) FailedIDs() map[string]error {
	out := make(map[string]error, len(r.Failures))
	for _, f := range r.Failures {
		out[f.MessageID] = f.Err
	}
	return out
}

func (r Report) Fields() log.Fields {
	f := log.Fields{"processed": r.Processed, "successful": r.Succeeded(), "failed": r.Failed()}
	for k, v := range r.Counters {
		f[k] = v
	}
	return f
}

// ForEach applies fn to every message in order. A failing or panicking message is
// recorded in the report and never stops its siblings.
func ForEach(ctx context.Context, msgs []Message, fn func(ctx context.Context, m Message) error) Report {
	return Tally(ctx, msgs, func(ctx context.Context, m Message) (string, error) {
		return "", fn(ctx, m)
	})
}

// Tally is ForEach for handlers that classify what they did. A non-empty outcome of a
// successful message is counted under that name.
func Tally(ctx context.Context, msgs []Message, fn func(ctx context.Context, m Message) (string, error)) Report {
	rep := Report{Processed: len(msgs)}
	for _, m := range msgs {
		outcome, err := safeApply(ctx, m, fn)
		if err != nil {
			rep.Fail(m, err)
			continue
		}
		if outcome != "" {
			rep.Inc(outcome)
		}
	}
	return rep
}

func safeApply(ctx context.Context, m Message, fn func(ctx context.Context, m Message) (string, error)) (outcome string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic handling message %s: %v", m.ID, p)
		}
	}()
	return fn(ctx, m)
}

// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package engine implements the pure per-match state machine.
//
// Apply never touches the network, the clock, or shared state: every input
// it needs is a parameter, and equal inputs produce equal outputs. The
// command router runs Apply inside the optimistic-concurrency retry loop,
// so Apply may be re-executed against a fresh match snapshot at any time.
package engine

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tatamilive/tatami/internal/models"
)

// Auto-finish causes, used in event metadata and metrics labels.
const (
	CauseSubmission       = "submission"
	CauseDisqualification = "disqualification"
	CauseTimer            = "timer"
)

// DisqualificationPenalties is the penalty count that ends the match
// against the offender.
const DisqualificationPenalties = 3

// Result is the outcome of an accepted command.
type Result struct {
	// Match is the next aggregate state. The input match is never mutated.
	Match *models.Match

	// Events are the emitted log entries, with provisional sequences
	// version+1..version+n relative to the input match.
	Events []*models.MatchEvent

	// AutoFinishCause is set when the command triggered an automatic
	// finish: submission, disqualification, or timer.
	AutoFinishCause string
}

// Apply runs one command against a match snapshot.
//
// On acceptance it returns the next match and the emitted events; the
// returned match's Version is bumped once per event. On refusal it returns
// a *Rejection and the match is untouched.
func Apply(m *models.Match, cmd Command, actor Actor, now time.Time) (*Result, error) {
	if m == nil {
		return nil, reject(RejectMalformedCommand, "no match")
	}
	if !actor.CanMutate() {
		return nil, reject(RejectUnauthorized, "role lacks permission for %s", cmd.Kind)
	}
	if m.State.Terminal() && cmd.Kind != KindComment {
		return nil, reject(RejectMatchTerminal, "match %s is %s", m.ID, m.State)
	}

	next := m.Clone()
	next.UpdatedAt = now
	b := &eventBuilder{match: next, actorID: actor.SubjectID, now: now}

	switch cmd.Kind {
	case KindStart:
		return applyStart(next, b)
	case KindPause:
		return applyPause(next, b)
	case KindReset:
		return applyReset(next, b)
	case KindEnd:
		return applyEnd(next, b)
	case KindCancel:
		return applyCancel(next, b)
	case KindScore:
		return applyScore(next, b, cmd)
	case KindTimerSet:
		return applyTimerSet(next, b, cmd)
	case KindComment:
		return applyComment(next, b, cmd)
	case KindTimerExpired:
		return applyTimerExpired(next, b)
	}
	return nil, reject(RejectMalformedCommand, "unknown command kind %q", cmd.Kind)
}

// eventBuilder assigns dense sequences while commands emit events. Event
// ids are name-based UUIDs of match id and sequence, so they are stable
// across re-executions of the same command.
type eventBuilder struct {
	match   *models.Match
	actorID string
	now     time.Time
	events  []*models.MatchEvent
}

func (b *eventBuilder) emit(t models.EventType, participantID, value *string, meta models.Metadata) {
	b.match.Version++
	b.events = append(b.events, &models.MatchEvent{
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(b.match.ID+"/"+strconv.FormatUint(b.match.Version, 10))).String(),
		MatchID:       b.match.ID,
		Sequence:      b.match.Version,
		Timestamp:     b.now,
		ActorID:       b.actorID,
		ParticipantID: participantID,
		EventType:     t,
		Value:         value,
		Metadata:      meta,
	})
}

func strp(s string) *string { return &s }

func applyStart(m *models.Match, b *eventBuilder) (*Result, error) {
	if m.State != models.MatchStateScheduled && m.State != models.MatchStatePaused {
		return nil, reject(RejectInvalidTransition, "cannot START from %s", m.State)
	}
	from := m.State
	m.State = models.MatchStateInProgress
	if m.StartedAt == nil {
		t := b.now
		m.StartedAt = &t
		if m.TimeRemainingSeconds == 0 || m.TimeRemainingSeconds > m.DurationSeconds {
			m.TimeRemainingSeconds = m.DurationSeconds
		}
	}
	b.emit(models.EventStart, nil, nil, models.Metadata{"from": string(from)})
	return &Result{Match: m, Events: b.events}, nil
}

func applyPause(m *models.Match, b *eventBuilder) (*Result, error) {
	if m.State != models.MatchStateInProgress {
		return nil, reject(RejectInvalidTransition, "cannot PAUSE from %s", m.State)
	}
	m.State = models.MatchStatePaused
	b.emit(models.EventStop, nil, nil, nil)
	return &Result{Match: m, Events: b.events}, nil
}

func applyReset(m *models.Match, b *eventBuilder) (*Result, error) {
	from := m.State
	m.State = models.MatchStateScheduled
	m.Score1 = models.Score{}
	m.Score2 = models.Score{}
	m.TimeRemainingSeconds = m.DurationSeconds
	m.StartedAt = nil
	m.FinishedAt = nil
	m.WinnerParticipantID = nil
	b.emit(models.EventReset, nil, nil, models.Metadata{"from": string(from)})
	return &Result{Match: m, Events: b.events}, nil
}

func applyEnd(m *models.Match, b *eventBuilder) (*Result, error) {
	if m.State != models.MatchStateInProgress && m.State != models.MatchStatePaused {
		return nil, reject(RejectInvalidTransition, "cannot END from %s", m.State)
	}
	finish(m, b, models.EventStateChange, nil)
	return &Result{Match: m, Events: b.events}, nil
}

func applyCancel(m *models.Match, b *eventBuilder) (*Result, error) {
	from := m.State
	m.State = models.MatchStateCancelled
	b.emit(models.EventStateChange, nil, strp(string(models.MatchStateCancelled)),
		models.Metadata{"from": string(from)})
	return &Result{Match: m, Events: b.events}, nil
}

func applyScore(m *models.Match, b *eventBuilder, cmd Command) (*Result, error) {
	if m.State != models.MatchStateInProgress {
		return nil, reject(RejectInvalidTransition, "cannot score from %s", m.State)
	}
	eventType, ok := cmd.ScoreKind.EventType()
	if !ok {
		return nil, reject(RejectMalformedCommand, "unknown score kind %q", cmd.ScoreKind)
	}
	score := m.ScoreFor(cmd.ParticipantID)
	if score == nil {
		return nil, reject(RejectUnknownParticipant, "participant %q is not on match %s", cmd.ParticipantID, m.ID)
	}

	switch cmd.ScoreKind {
	case ScorePoints2:
		score.Points += 2
	case ScoreAdvantage:
		score.Advantages++
	case ScorePenalty:
		score.Penalties++
	case ScoreSubmission:
		score.Submissions++
	}
	b.emit(eventType, strp(cmd.ParticipantID), nil, nil)

	cause := autoFinishCause(m)
	switch cause {
	case CauseSubmission:
		finish(m, b, models.EventStateChange, models.Metadata{"cause": cause})
	case CauseDisqualification:
		finish(m, b, models.EventAutoFinish, models.Metadata{"cause": cause})
	}
	return &Result{Match: m, Events: b.events, AutoFinishCause: cause}, nil
}

func applyTimerSet(m *models.Match, b *eventBuilder, cmd Command) (*Result, error) {
	seconds := cmd.Seconds
	if seconds > m.DurationSeconds {
		seconds = m.DurationSeconds
	}
	m.TimeRemainingSeconds = seconds
	b.emit(models.EventTimerUpdate, nil, strp(strconv.FormatUint(uint64(seconds), 10)), nil)

	if m.State == models.MatchStateInProgress && seconds == 0 {
		finish(m, b, models.EventAutoFinish, models.Metadata{"cause": CauseTimer})
		return &Result{Match: m, Events: b.events, AutoFinishCause: CauseTimer}, nil
	}
	return &Result{Match: m, Events: b.events}, nil
}

func applyComment(m *models.Match, b *eventBuilder, cmd Command) (*Result, error) {
	if cmd.Text == "" {
		return nil, reject(RejectMalformedCommand, "empty comment")
	}
	b.emit(models.EventComment, nil, strp(cmd.Text), nil)
	return &Result{Match: m, Events: b.events}, nil
}

func applyTimerExpired(m *models.Match, b *eventBuilder) (*Result, error) {
	if m.State != models.MatchStateInProgress {
		return nil, reject(RejectInvalidTransition, "timer expiry outside IN_PROGRESS")
	}
	m.TimeRemainingSeconds = 0
	finish(m, b, models.EventAutoFinish, models.Metadata{"cause": CauseTimer})
	return &Result{Match: m, Events: b.events, AutoFinishCause: CauseTimer}, nil
}

// finish transitions to FINISHED, computes the winner, and emits the
// closing event.
func finish(m *models.Match, b *eventBuilder, eventType models.EventType, meta models.Metadata) {
	from := m.State
	m.State = models.MatchStateFinished
	t := b.now
	m.FinishedAt = &t
	m.WinnerParticipantID = ComputeWinner(m)
	if meta == nil {
		meta = models.Metadata{}
	}
	meta["from"] = string(from)
	b.emit(eventType, m.WinnerParticipantID, strp(string(models.MatchStateFinished)), meta)
}

// autoFinishCause inspects the scoreboards after an accepted SCORE and
// reports which finish rule fired, if any.
func autoFinishCause(m *models.Match) string {
	if m.Score1.Submissions > 0 || m.Score2.Submissions > 0 {
		return CauseSubmission
	}
	if m.Score1.Penalties >= DisqualificationPenalties || m.Score2.Penalties >= DisqualificationPenalties {
		return CauseDisqualification
	}
	return ""
}

// ComputeWinner applies the deterministic tie-break to the current scores:
// lone submission, disqualification by penalties, points, advantages,
// fewer penalties. A full tie is a draw and returns nil.
func ComputeWinner(m *models.Match) *string {
	s1, s2 := m.Score1, m.Score2
	p1, p2 := m.Participant1.ID, m.Participant2.ID

	if s1.Submissions > 0 && s2.Submissions == 0 {
		return &p1
	}
	if s2.Submissions > 0 && s1.Submissions == 0 {
		return &p2
	}

	dq1 := s1.Penalties >= DisqualificationPenalties
	dq2 := s2.Penalties >= DisqualificationPenalties
	if dq1 && !dq2 {
		return &p2
	}
	if dq2 && !dq1 {
		return &p1
	}

	if s1.Points != s2.Points {
		if s1.Points > s2.Points {
			return &p1
		}
		return &p2
	}
	if s1.Advantages != s2.Advantages {
		if s1.Advantages > s2.Advantages {
			return &p1
		}
		return &p2
	}
	if s1.Penalties != s2.Penalties {
		if s1.Penalties < s2.Penalties {
			return &p1
		}
		return &p2
	}
	return nil
}

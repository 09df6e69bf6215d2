// Package continuity decides whether an inbound message continues the
// current conversation or starts a new topic.
//
// Detection is a two-stage cascade. A pure pattern pre-filter
// (IsLikelyFollowUp) runs on every message; only when it fires and the
// session has history is the external classifier consulted. Classifier
// failures never surface as errors: they degrade to the Unclear verdict
// and the message is handled as a new topic.
package continuity

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrClassifierUnavailable means the classifier could not be reached.
	ErrClassifierUnavailable = errors.New("continuity: classifier unavailable")

	// ErrClassifierMalformed means the classifier answered with something
	// that is not a valid verdict.
	ErrClassifierMalformed = errors.New("continuity: malformed classifier output")
)

// MaxRecentTurns is how many prior turns the classifier sees.
const MaxRecentTurns = 5

// Classifier labels a message given the most recent turns, oldest first.
type Classifier interface {
	Classify(ctx context.Context, text string, recent []string) (Verdict, error)
}

// Detector runs the pre-filter and classifier and applies the routing
// policy. A nil classifier is allowed; every message then routes as a new
// topic.
type Detector struct {
	classifier Classifier
	threshold  float64
	logger     *slog.Logger
}

// NewDetector returns a Detector. threshold <= 0 means DefaultThreshold.
func NewDetector(c Classifier, threshold float64, logger *slog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{classifier: c, threshold: threshold, logger: logger}
}

// Threshold returns the continuation confidence threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Classify asks the classifier about text. It never fails: an unavailable
// classifier, an error or an invalid verdict all yield Unclear.
func (d *Detector) Classify(ctx context.Context, text string, recent []string) Verdict {
	if d.classifier == nil {
		return Unclear
	}
	if len(recent) > MaxRecentTurns {
		recent = recent[len(recent)-MaxRecentTurns:]
	}

	v, err := d.classifier.Classify(ctx, text, recent)
	if err == nil && (!v.Kind.Valid() || !(v.Confidence >= 0 && v.Confidence <= 1)) {
		err = ErrClassifierMalformed
	}
	if err != nil {
		anomaly := "classifier_unavailable"
		if errors.Is(err, ErrClassifierMalformed) {
			anomaly = "classifier_malformed"
		}
		d.logger.WarnContext(ctx, "continuity: classifier degraded to unclear",
			"anomaly", anomaly, "error", err)
		return Unclear
	}
	return v
}

// Decide classifies text against the recent turns of the active session
// (oldest first) and applies Route. The classifier is only called when the
// pre-filter fires and there is history to continue.
func (d *Detector) Decide(ctx context.Context, text string, recent []string) Decision {
	if len(recent) == 0 || !IsLikelyFollowUp(text) {
		return NewTopic()
	}
	if d.classifier == nil {
		return NewTopic()
	}
	dec := Route(d.Classify(ctx, text, recent), text, d.threshold)
	dec.ClassifierCalled = true
	return dec
}

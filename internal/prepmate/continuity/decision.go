package continuity

// Kind is the classification of an inbound message relative to the
// conversation so far.
type Kind string

const (
	KindFollowUp      Kind = "follow_up"
	KindRefinement    Kind = "refinement"
	KindClarification Kind = "clarification"
	KindNewTopic      Kind = "new_topic"
	KindUnclear       Kind = "unclear"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFollowUp, KindRefinement, KindClarification, KindNewTopic, KindUnclear:
		return true
	}
	return false
}

// Continuation reports whether k ties the message to prior context.
func (k Kind) Continuation() bool {
	return k == KindFollowUp || k == KindRefinement || k == KindClarification
}

// DefaultThreshold is the confidence a verdict must exceed to be routed as
// a continuation.
const DefaultThreshold = 0.6

// Verdict is a classifier answer. The zero-confidence unclear verdict
// stands for "no answer" (classifier down, malformed output, not asked).
type Verdict struct {
	Kind       Kind
	Confidence float64
}

// Unclear is the verdict used whenever the classifier cannot answer.
var Unclear = Verdict{Kind: KindUnclear, Confidence: 0}

// Decision is handed to the generation collaborator.
type Decision struct {
	IsFollowUp bool
	Kind       Kind
	Confidence float64

	// ContextText is the prior conversation and recall context, already
	// truncated. Filled by the orchestrator for continuations.
	ContextText string

	// Auxiliary shaping hints. They never change routing.
	Refinement RefinementType
	FocusArea  string

	// ClassifierCalled is set when the external classifier was invoked for
	// this decision, whether or not it answered.
	ClassifierCalled bool
}

// NewTopic is the decision for a message that starts fresh.
func NewTopic() Decision {
	return Decision{Kind: KindNewTopic}
}

// Route applies the continuation policy to a verdict: the message continues
// the conversation only when the verdict is a continuation kind, its
// confidence exceeds threshold, and the text does not look like a new
// meeting request. Anything else routes to a new topic.
func Route(v Verdict, text string, threshold float64) Decision {
	if !v.Kind.Continuation() || !(v.Confidence > threshold) || LooksLikeNewTopicRequest(text) {
		return Decision{Kind: KindNewTopic, Confidence: v.Confidence}
	}
	return Decision{
		IsFollowUp: true,
		Kind:       v.Kind,
		Confidence: v.Confidence,
		Refinement: GetRefinementType(text),
		FocusArea:  ExtractFocusArea(text),
	}
}

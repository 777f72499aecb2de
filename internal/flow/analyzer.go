package flow

import (
	"strings"
	"sync"
	"time"
)

var (
	debuggingKeywords    = []string{"error", "bug", "crash", "exception", "fail"}
	learningKeywords     = []string{"how", "what", "explain", "why"}
	implementingKeywords = []string{"implement", "code", "write", "build"}
	planningKeywords     = []string{"design", "architecture", "plan"}

	confusionPhrases = []string{"i don't understand", "confused", "doesn't make sense", "lost", "not clear"}
	progressPhrases  = []string{"got it", "makes sense", "done", "solved", "working now"}
	stuckPhrases     = []string{"stuck", "can't figure out", "not working", "same error again"}
)

func containsKeyword(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Analyzer tracks one conversation's flow state and momentum. Not safe
// for use across conversations; tools.Service owns one Analyzer per instance.
type Analyzer struct {
	mu sync.Mutex

	state       State
	transitions []Transition

	messageTimes  []time.Time
	prevVelocity  float64
	clarity       float64
	progress      float64
	confusion     float64
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{state: Exploring, clarity: 0.5, progress: 0.5}
}

func (a *Analyzer) transition(to State) {
	if to == a.state {
		return
	}
	a.transitions = append(a.transitions, Transition{From: a.state, To: to, At: time.Now().UTC()})
	a.state = to
}

func engagementFor(velocity float64) float64 {
	switch {
	case velocity >= 10:
		return 1.0
	case velocity >= 5:
		return 0.75
	case velocity >= 2:
		return 0.5
	case velocity >= 0.5:
		return 0.25
	default:
		return 0.1
	}
}

// OnMessage evaluates flow transitions and momentum for one new message.
func (a *Analyzer) OnMessage(text string) (State, Momentum, *InterventionRecommendation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lower := strings.ToLower(text)
	now := time.Now().UTC()

	switch {
	case containsKeyword(lower, debuggingKeywords):
		a.transition(Debugging)
	case containsKeyword(lower, learningKeywords):
		a.transition(Learning)
	case containsKeyword(lower, implementingKeywords):
		a.transition(Implementing)
	case containsKeyword(lower, planningKeywords):
		a.transition(Planning)
	}

	// confusion_indicators is a decaying counter: every message decays it
	// slightly before the current message's hits are added.
	a.confusion *= 0.9
	if containsKeyword(lower, confusionPhrases) {
		a.confusion++
		a.clarity = clamp01(a.clarity - 0.1)
	}
	if containsKeyword(lower, progressPhrases) {
		a.clarity = clamp01(a.clarity + 0.1)
		a.progress = clamp01(a.progress + 0.05)
	}
	if containsKeyword(lower, stuckPhrases) {
		a.progress = clamp01(a.progress - 0.2)
	}

	if a.progress < 0.3 && a.confusion > 3 {
		a.transition(Stuck)
	}

	a.messageTimes = append(a.messageTimes, now)
	cutoff := now.Add(-5 * time.Minute)
	kept := a.messageTimes[:0]
	for _, t := range a.messageTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.messageTimes = kept

	windowMinutes := 5.0
	if len(a.messageTimes) > 1 {
		windowMinutes = now.Sub(a.messageTimes[0]).Minutes()
		if windowMinutes < 0.1 {
			windowMinutes = 0.1
		}
	}
	velocity := float64(len(a.messageTimes)) / windowMinutes
	acceleration := velocity - a.prevVelocity
	a.prevVelocity = velocity

	momentum := Momentum{
		Velocity:            velocity,
		Acceleration:         acceleration,
		Engagement:           engagementFor(velocity),
		Clarity:              a.clarity,
		Progress:             a.progress,
		ConfusionIndicators:  a.confusion,
	}

	var rec *InterventionRecommendation
	switch {
	case a.state == Stuck:
		rec = &InterventionRecommendation{Reason: "flow_stuck", Priority: 1.0}
	case a.confusion > 5:
		rec = &InterventionRecommendation{Reason: "high_confusion", Priority: clamp01(a.confusion / 10)}
	case a.progress < 0.3:
		rec = &InterventionRecommendation{Reason: "low_progress", Priority: clamp01(1 - a.progress)}
	case a.clarity < 0.4:
		rec = &InterventionRecommendation{Reason: "low_clarity", Priority: clamp01(1 - a.clarity)}
	}

	return a.state, momentum, rec
}

// State reports the current flow state without mutating anything.
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Transitions returns a copy of the logged state transitions.
func (a *Analyzer) Transitions() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.transitions))
	copy(out, a.transitions)
	return out
}

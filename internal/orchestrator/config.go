package orchestrator

import "time"

const (
	// DefaultPollInterval is how often the pipeline checks for
	// unprocessed events.
	DefaultPollInterval = 2 * time.Second

	// DefaultDecisionThreshold is the minimum classification confidence
	// for a draft to clear the auto-approval gate.
	DefaultDecisionThreshold = 0.3

	// DefaultDraftThreshold is the minimum draft confidence for a draft
	// to clear the auto-approval gate.
	DefaultDraftThreshold = 0.2

	// DefaultAgentName attributes drafts composed by the pipeline.
	DefaultAgentName = "ReplyAgent"
)

// Config tunes the decision pipeline.
type Config struct {
	// PollInterval is the delay between polls for unprocessed events.
	PollInterval time.Duration

	// DecisionThreshold is the minimum classification confidence for
	// auto-approval. Drafts below it wait for a human.
	DecisionThreshold float64

	// DraftThreshold is the minimum draft confidence for auto-approval.
	DraftThreshold float64

	// AgentName is recorded on every draft the pipeline creates.
	AgentName string

	// Model names the underlying model, recorded on drafts for audit.
	Model string
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      DefaultPollInterval,
		DecisionThreshold: DefaultDecisionThreshold,
		DraftThreshold:    DefaultDraftThreshold,
		AgentName:         DefaultAgentName,
	}
}

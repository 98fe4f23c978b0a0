package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/spf13/cobra"
)

var threadCmd = &cobra.Command{
	Use:   "thread <thread-id>",
	Short: "Show a thread's events and decisions",
	Args:  cobra.ExactArgs(1),
	RunE:  runThread,
}

func runThread(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	threadID := args[0]

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := storage.ThreadEvents(ctx, threadID)
	if err != nil {
		return err
	}

	decisions, err := storage.DecisionsForThread(ctx, threadID)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(threadJSON(threadID, events, decisions))
	}

	if len(events) == 0 {
		fmt.Printf("Thread %s has no events.\n", threadID)
		return nil
	}

	fmt.Printf("Thread %s (%d events, %d decisions):\n\n",
		threadID, len(events), len(decisions))

	for _, event := range events {
		arrow := "->"
		if event.Direction == store.DirectionIncoming {
			arrow = "<-"
		}

		fmt.Printf("%s %s  %s  %s\n", arrow,
			event.ReceivedAt.Format(time.RFC3339),
			event.From, event.MessageID)
		if event.Subject != "" {
			fmt.Printf("   Subject: %s\n", event.Subject)
		}
		fmt.Printf("   %s\n", event.Body)
	}

	if len(decisions) > 0 {
		fmt.Println()
		for _, decision := range decisions {
			fmt.Printf("decision %s on %s", decision.Action,
				decision.MessageID)
			decision.Confidence.WhenSome(func(c float64) {
				fmt.Printf(" (%.2f)", c)
			})
			fmt.Printf(": %s\n", decision.Reason)
		}
	}

	return nil
}

// threadView is the JSON projection of a thread.
type threadView struct {
	ThreadID  string         `json:"thread_id"`
	Events    []eventView    `json:"events"`
	Decisions []decisionView `json:"decisions"`
}

type eventView struct {
	MessageID  string   `json:"message_id"`
	Direction  string   `json:"direction"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	References []string `json:"references"`
	ReceivedAt string   `json:"received_at"`
	Processed  bool     `json:"processed"`
}

type decisionView struct {
	MessageID  string   `json:"message_id"`
	Action     string   `json:"action"`
	Intent     string   `json:"intent,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason"`
}

func threadJSON(threadID string, events []store.EmailEvent,
	decisions []store.Decision) threadView {

	view := threadView{ThreadID: threadID}
	for _, event := range events {
		view.Events = append(view.Events, eventView{
			MessageID:  event.MessageID,
			Direction:  string(event.Direction),
			From:       event.From,
			To:         event.To,
			Subject:    event.Subject,
			Body:       event.Body,
			References: event.References,
			ReceivedAt: event.ReceivedAt.Format(time.RFC3339),
			Processed:  event.Processed,
		})
	}
	for _, decision := range decisions {
		entry := decisionView{
			MessageID: decision.MessageID,
			Action:    string(decision.Action),
			Intent:    decision.Intent.UnwrapOr(""),
			Reason:    decision.Reason,
		}
		decision.Confidence.WhenSome(func(c float64) {
			entry.Confidence = &c
		})
		view.Decisions = append(view.Decisions, entry)
	}

	return view
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long: `Show a snapshot of the pipeline: whether inbound events are waiting
on a decision, and how many drafts sit in review or in the send queue.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	next, err := storage.NextUnprocessed(ctx)
	if err != nil {
		return err
	}

	pending, err := storage.PendingDrafts(ctx)
	if err != nil {
		return err
	}

	approved, err := storage.ApprovedDrafts(ctx)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return outputJSON(statusView{
			EventsBacklogged: next.IsSome(),
			PendingDrafts:    len(pending),
			ApprovedDrafts:   len(approved),
		})
	}

	if next.IsSome() {
		fmt.Println("Inbound backlog: events awaiting a decision")
	} else {
		fmt.Println("Inbound backlog: empty")
	}
	fmt.Printf("Drafts awaiting review: %d\n", len(pending))
	fmt.Printf("Drafts queued to send:  %d\n", len(approved))

	return nil
}

// statusView is the JSON projection of the pipeline snapshot.
type statusView struct {
	EventsBacklogged bool `json:"events_backlogged"`
	PendingDrafts    int  `json:"pending_drafts"`
	ApprovedDrafts   int  `json:"approved_drafts"`
}

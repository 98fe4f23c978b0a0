package commands

import (
	"context"
	"fmt"

	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/spf13/cobra"
)

var draftsStatus string

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List reply drafts",
	Long: `List reply drafts by status. Pending drafts are awaiting review;
approved drafts are queued for sending.`,
	RunE: runDrafts,
}

func init() {
	draftsCmd.Flags().StringVarP(&draftsStatus, "status", "s", "pending",
		"Draft status to list: pending, approved")
}

func runDrafts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	var drafts []store.Draft
	switch draftsStatus {
	case "pending":
		drafts, err = storage.PendingDrafts(ctx)
	case "approved":
		drafts, err = storage.ApprovedDrafts(ctx)
	default:
		return fmt.Errorf("unknown status %q", draftsStatus)
	}
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		views := make([]draftView, 0, len(drafts))
		for _, draft := range drafts {
			views = append(views, draftView{
				ID:         draft.ID,
				MessageID:  draft.MessageID,
				ThreadID:   draft.ThreadID,
				Subject:    draft.Subject.UnwrapOr(""),
				Body:       draft.Body,
				Confidence: draft.Confidence,
				AgentName:  draft.AgentName,
				Model:      draft.Model,
				Status:     string(draft.Status),
				ReviewedBy: draft.ReviewedBy.UnwrapOr(""),
			})
		}
		return outputJSON(views)
	}

	if len(drafts) == 0 {
		fmt.Printf("No %s drafts.\n", draftsStatus)
		return nil
	}

	fmt.Printf("%d %s draft(s):\n\n", len(drafts), draftsStatus)
	for _, draft := range drafts {
		printDraft(draft)
	}

	return nil
}

// draftView is the JSON projection of a draft.
type draftView struct {
	ID         int64   `json:"id"`
	MessageID  string  `json:"message_id"`
	ThreadID   string  `json:"thread_id"`
	Subject    string  `json:"subject,omitempty"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
	AgentName  string  `json:"agent_name"`
	Model      string  `json:"model,omitempty"`
	Status     string  `json:"status"`
	ReviewedBy string  `json:"reviewed_by,omitempty"`
}

func printDraft(draft store.Draft) {
	fmt.Printf("Draft #%d  thread=%s  confidence=%.2f\n",
		draft.ID, draft.ThreadID, draft.Confidence)
	fmt.Printf("  For: %s\n", draft.MessageID)
	draft.Subject.WhenSome(func(subject string) {
		fmt.Printf("  Subject: %s\n", subject)
	})
	fmt.Printf("  Agent: %s", draft.AgentName)
	if draft.Model != "" {
		fmt.Printf(" (%s)", draft.Model)
	}
	fmt.Println()
	draft.ReviewedBy.WhenSome(func(reviewer string) {
		fmt.Printf("  Reviewed by: %s\n", reviewer)
	})
	fmt.Printf("  %s\n\n", draft.Body)
}

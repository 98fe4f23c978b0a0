package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"
)

var (
	reviewer   string
	rejectNote string
	editBody   string
	editSubj   string
)

var approveCmd = &cobra.Command{
	Use:   "approve <draft-id>",
	Short: "Approve a pending draft for sending",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <draft-id>",
	Short: "Reject a pending draft so it is never sent",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var editCmd = &cobra.Command{
	Use:   "edit <draft-id>",
	Short: "Replace a pending draft's content and approve it",
	Args:  cobra.ExactArgs(1),
	RunE:  runEdit,
}

func init() {
	for _, cmd := range []*cobra.Command{
		approveCmd, rejectCmd, editCmd,
	} {
		cmd.Flags().StringVarP(&reviewer, "reviewer", "r", "",
			"Reviewer identity recorded on the draft (required)")
	}

	rejectCmd.Flags().StringVar(&rejectNote, "note", "",
		"Optional note explaining the rejection")

	editCmd.Flags().StringVar(&editBody, "body", "",
		"Replacement body (required)")
	editCmd.Flags().StringVar(&editSubj, "subject", "",
		"Optional replacement subject")
}

// draftIDArg parses the positional draft id.
func draftIDArg(args []string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid draft id %q", args[0])
	}
	return id, nil
}

// reportOutcome prints whether the transition applied. A draft that already
// left the pending state is reported, not failed.
func reportOutcome(id int64, action string, changed bool) {
	if changed {
		fmt.Printf("Draft #%d %s.\n", id, action)
		return
	}
	fmt.Printf("Draft #%d was not pending; nothing changed.\n", id)
}

func runApprove(cmd *cobra.Command, args []string) error {
	id, err := draftIDArg(args)
	if err != nil {
		return err
	}
	if reviewer == "" {
		return fmt.Errorf("--reviewer is required")
	}

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	changed, err := storage.ApproveDraft(
		context.Background(), id, reviewer,
	)
	if err != nil {
		return err
	}

	reportOutcome(id, "approved", changed)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	id, err := draftIDArg(args)
	if err != nil {
		return err
	}
	if reviewer == "" {
		return fmt.Errorf("--reviewer is required")
	}

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	note := fn.None[string]()
	if rejectNote != "" {
		note = fn.Some(rejectNote)
	}

	changed, err := storage.RejectDraft(
		context.Background(), id, reviewer, note,
	)
	if err != nil {
		return err
	}

	reportOutcome(id, "rejected", changed)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	id, err := draftIDArg(args)
	if err != nil {
		return err
	}
	if reviewer == "" {
		return fmt.Errorf("--reviewer is required")
	}
	if editBody == "" {
		return fmt.Errorf("--body is required")
	}

	storage, cleanup, err := openStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	subject := fn.None[string]()
	if editSubj != "" {
		subject = fn.Some(editSubj)
	}

	changed, err := storage.EditAndApproveDraft(
		context.Background(), id, subject, editBody, reviewer,
	)
	if err != nil {
		return err
	}

	reportOutcome(id, "edited and approved", changed)
	return nil
}

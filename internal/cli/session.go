package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/store"
)

func newSessionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			return runList(cmd, opts, store.ListOptions{Status: domain.Status(status), Limit: limit})
		},
	}
	list.Flags().StringP("status", "s", "", "Filter by status: active, finalizing or completed")
	list.Flags().IntP("limit", "l", 50, "Maximum sessions to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session with its transcript and intelligence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts, args[0])
		},
	}

	end := &cobra.Command{
		Use:   "end <session-id>",
		Short: "Finalize a session and submit its report (retries a failed submission)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnd(cmd, opts, args[0])
		},
	}

	reset := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Discard a session and start a fresh one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, opts, args[0])
		},
	}

	cmd.AddCommand(list, show, end, reset)
	return cmd
}

func runList(cmd *cobra.Command, opts *options, filter store.ListOptions) error {
	switch filter.Status {
	case "", domain.StatusActive, domain.StatusFinalizing, domain.StatusCompleted:
	default:
		return fmt.Errorf("unknown status %q", filter.Status)
	}

	eng, closeFn, err := opts.openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer closeFn()

	sessions, err := eng.ListSessions(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}

	if opts.format == "text" {
		return printSessionTable(cmd.OutOrStdout(), sessions)
	}
	return writeJSON(cmd.OutOrStdout(), sessions)
}

func runShow(cmd *cobra.Command, opts *options, id string) error {
	eng, closeFn, err := opts.openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer closeFn()

	session, err := eng.GetSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	if opts.format == "text" {
		printSession(cmd.OutOrStdout(), session)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), session)
}

func runEnd(cmd *cobra.Command, opts *options, id string) error {
	eng, closeFn, err := opts.openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer closeFn()

	session, ack, err := eng.EndEngagement(cmd.Context(), id)
	if err != nil {
		return err
	}
	if opts.format == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "session %s completed", session.SessionID)
		if ack != nil {
			fmt.Fprintf(cmd.OutOrStdout(), " (attempt %s)", ack.AttemptID)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{"session": session, "ack": ack})
}

func runReset(cmd *cobra.Command, opts *options, id string) error {
	eng, closeFn, err := opts.openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer closeFn()

	fresh, err := eng.ResetSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	if opts.format == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "session %s replaced by %s\n", id, fresh.SessionID)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), fresh)
}

func printSessionTable(w io.Writer, sessions []*domain.Session) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tSCAM\tMESSAGES\tINTEL\tUPDATED")
	for _, s := range sessions {
		scam := "no"
		if s.ScamDetected {
			scam = "yes"
			if s.ScamType != nil {
				scam = *s.ScamType
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.SessionID, s.Status, scam, s.TotalMessagesExchanged,
			s.ExtractedIntelligence.Count(), s.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printSession(w io.Writer, s *domain.Session) {
	fmt.Fprintf(w, "Session:  %s\n", s.SessionID)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	fmt.Fprintf(w, "Scam:     %t\n", s.ScamDetected)
	if s.ScamType != nil {
		fmt.Fprintf(w, "Type:     %s\n", *s.ScamType)
	}
	fmt.Fprintf(w, "Messages: %d\n", s.TotalMessagesExchanged)

	intel := s.ExtractedIntelligence
	for _, row := range []struct {
		name   string
		values []string
	}{
		{"Bank accounts", intel.BankAccounts},
		{"UPI ids", intel.UpiIDs},
		{"Links", intel.PhishingLinks},
		{"Phones", intel.PhoneNumbers},
		{"Keywords", intel.SuspiciousKeywords},
	} {
		if len(row.values) > 0 {
			fmt.Fprintf(w, "%s: %s\n", row.name, strings.Join(row.values, ", "))
		}
	}
	if s.AgentNotes != "" {
		fmt.Fprintf(w, "Notes:    %s\n", s.AgentNotes)
	}

	fmt.Fprintln(w)
	for _, m := range s.ConversationHistory {
		fmt.Fprintf(w, "[%s] %s: %s\n", time.UnixMilli(m.Timestamp).Format(time.RFC3339), m.Sender, m.Text)
	}
}

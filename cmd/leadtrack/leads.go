package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/workspace"
)

var (
	listStatus   []string
	listPriority []string
	listSearch   string
	listArchived bool
	listDueFrom  string
	listDueTo    string

	addLead struct {
		email, name, company, phone string
		products                    []string
		status, priority, followUp  string
		note                        string
	}
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List leads",
	Long: `Lists leads in creation order. Archived leads are hidden unless
--archived is set or --status names them.

Example:
  leadtrack leads --status qualified,proposal --search acme`,
	Args: cobra.NoArgs,
	RunE: runLeads,
}

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
			l, err := ws.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(l)
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a lead by hand",
	Args:  cobra.NoArgs,
	RunE:  runAdd,
}

var updateCmd = &cobra.Command{
	Use:   "update [id] [field] [value]",
	Short: "Set one field of a lead",
	Long: `Sets a single field. Status and priority must name a known value;
dates accept RFC 3339, "2006-01-02 15:04" and "2006-01-02".

Example:
  leadtrack update 3f2c... status Qualified`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, ok := domain.ParseField(args[1])
		if !ok {
			return fmt.Errorf("unknown field %q", args[1])
		}
		return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
			return ws.UpdateField(cmd.Context(), args[0], f, args[2])
		})
	},
}

var noteCmd = &cobra.Command{
	Use:   "note [id] [text]",
	Short: "Append a note to a lead",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
			return ws.AddNote(cmd.Context(), args[0], text, time.Time{})
		})
	},
}

var followUpCmd = &cobra.Command{
	Use:   "followup",
	Short: "Schedule or complete follow-ups",
}

var followUpSetCmd = &cobra.Command{
	Use:   "set [id] [when]",
	Short: "Schedule a follow-up",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := domain.ParseTime(args[1])
		if err != nil {
			return err
		}
		return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
			return ws.ScheduleFollowUp(cmd.Context(), args[0], at)
		})
	},
}

var followUpDoneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark the follow-up done and record the contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
			return ws.CompleteFollowUp(cmd.Context(), args[0])
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [id]",
	Short: "Archive a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
			return ws.Archive(cmd.Context(), args[0])
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show the change history of a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
			evs, err := ws.History(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(evs)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tAT\tFIELD\tOLD\tNEW")
			for _, ev := range evs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.At.Local().Format(time.DateTime),
					ev.Field, deref(ev.OldValue), deref(ev.NewValue))
			}
			return tw.Flush()
		})
	},
}

func init() {
	leadsCmd.Flags().StringSliceVar(&listStatus, "status", nil, "only these statuses")
	leadsCmd.Flags().StringSliceVar(&listPriority, "priority", nil, "only these priorities")
	leadsCmd.Flags().StringVarP(&listSearch, "search", "q", "", "search email, name, company, phone and products")
	leadsCmd.Flags().BoolVar(&listArchived, "archived", false, "include archived leads")
	leadsCmd.Flags().StringVar(&listDueFrom, "due-from", "", "follow-up on or after")
	leadsCmd.Flags().StringVar(&listDueTo, "due-to", "", "follow-up on or before")

	addCmd.Flags().StringVar(&addLead.email, "email", "", "email address")
	addCmd.Flags().StringVar(&addLead.name, "name", "", "contact name")
	addCmd.Flags().StringVar(&addLead.company, "company", "", "company")
	addCmd.Flags().StringVar(&addLead.phone, "phone", "", "phone number")
	addCmd.Flags().StringSliceVar(&addLead.products, "product", nil, "products of interest")
	addCmd.Flags().StringVar(&addLead.status, "status", "", "status (default New)")
	addCmd.Flags().StringVar(&addLead.priority, "priority", "", "priority (default Medium)")
	addCmd.Flags().StringVar(&addLead.followUp, "follow-up", "", "follow-up date/time")
	addCmd.Flags().StringVar(&addLead.note, "note", "", "first note")

	followUpCmd.AddCommand(followUpSetCmd, followUpDoneCmd)
	rootCmd.AddCommand(leadsCmd, showCmd, addCmd, updateCmd, noteCmd, followUpCmd, archiveCmd, historyCmd)
}

func runLeads(cmd *cobra.Command, args []string) error {
	f := leads.Filter{Search: listSearch, IncludeArchived: listArchived}
	for _, s := range listStatus {
		st, ok := domain.ParseStatus(s)
		if !ok {
			return fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, s := range listPriority {
		p, ok := domain.ParsePriority(s)
		if !ok {
			return fmt.Errorf("unknown priority %q", s)
		}
		f.Priorities = append(f.Priorities, p)
	}
	for _, d := range []struct {
		v   string
		dst *time.Time
	}{{listDueFrom, &f.FollowUpFrom}, {listDueTo, &f.FollowUpTo}} {
		if d.v == "" {
			continue
		}
		t, err := domain.ParseTime(d.v)
		if err != nil {
			return err
		}
		*d.dst = t
	}

	return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		out := ws.Query(f)
		if jsonOut {
			if out == nil {
				out = []domain.Lead{}
			}
			return printJSON(out)
		}
		printLeads(out)
		return nil
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	l := domain.Lead{
		Email:   strings.ToLower(domain.CleanText(addLead.email)),
		Name:    domain.CleanText(addLead.name),
		Company: domain.CleanText(addLead.company),
		Phone:   domain.CleanText(addLead.phone),
	}
	for _, p := range addLead.products {
		l.Products = domain.UnionStrings(l.Products, domain.SplitMulti(p))
	}
	for _, fv := range []struct {
		f domain.Field
		v string
	}{
		{domain.FieldStatus, addLead.status},
		{domain.FieldPriority, addLead.priority},
		{domain.FieldFollowUpAt, addLead.followUp},
	} {
		if fv.v == "" {
			continue
		}
		if err := domain.SetField(&l, fv.f, fv.v); err != nil {
			return err
		}
	}
	if n := strings.TrimSpace(addLead.note); n != "" {
		l.Notes = []domain.Note{{At: domain.Timestamp(time.Now()), Text: n}}
	}
	return mutate(cmd, func(ws *workspace.Workspace) (domain.Lead, error) {
		return ws.Create(cmd.Context(), l)
	})
}

// mutate runs one lead mutation, saves, and prints the resulting lead.
func mutate(cmd *cobra.Command, fn func(ws *workspace.Workspace) (domain.Lead, error)) error {
	return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		l, err := fn(ws)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(l)
		}
		printLeads([]domain.Lead{l})
		return nil
	})
}

func printLeads(ls []domain.Lead) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOMPANY\tEMAIL\tSTATUS\tPRIORITY\tFOLLOW-UP")
	for _, l := range ls {
		due := ""
		if l.FollowUpAt != nil {
			due = l.FollowUpAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Company, l.Email, l.Status, l.Priority, due)
	}
	_ = tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

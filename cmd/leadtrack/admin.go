package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"leadtrack-engine/internal/backup"
	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/secrets"
	"leadtrack-engine/internal/workspace"
)

var (
	agendaDays int
	backupTo   string
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Pipeline totals by status and priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
			a := ws.Analytics()
			if jsonOut {
				return printJSON(a)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "total\t%d\n", a.Total)
			fmt.Fprintf(tw, "qualified\t%d\n", a.Qualified)
			fmt.Fprintf(tw, "active follow-ups\t%d\n", a.ActiveFollowUps)
			fmt.Fprintf(tw, "overdue follow-ups\t%d\n", a.OverdueFollowUps)
			for _, st := range domain.Statuses {
				if n := a.ByStatus[st]; n > 0 {
					fmt.Fprintf(tw, "  %s\t%d\n", st, n)
				}
			}
			for _, p := range slices.Backward(domain.Priorities) {
				if n := a.ByPriority[p]; n > 0 {
					fmt.Fprintf(tw, "  %s priority\t%d\n", p, n)
				}
			}
			return tw.Flush()
		})
	},
}

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Overdue, today's and upcoming follow-ups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
			ag := ws.Agenda(agendaDays)
			if jsonOut {
				return printJSON(ag)
			}
			for _, sec := range []struct {
				title string
				ls    []domain.Lead
			}{{"Overdue", ag.Overdue}, {"Today", ag.Today}, {"Upcoming", ag.Upcoming}} {
				fmt.Printf("%s (%d)\n", sec.title, len(sec.ls))
				if len(sec.ls) > 0 {
					printLeads(sec.ls)
				}
			}
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the lead database",
	Long: `Writes leads_backup_YYYYMMDD_HHMMSS.db into backup.dir, prunes old
backups past backup.keep, and uploads the copy when an S3 target is set.

Example:
  leadtrack backup --to s3://my-bucket/leadtrack`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var mgr *backup.Manager
		if backupTo != "" {
			bucket, prefix, err := backup.ParseS3URL(backupTo)
			if err != nil {
				return err
			}
			if mgr, err = backupManager(ctx, bucket, prefix); err != nil {
				return err
			}
		}
		ws, err := openWorkspace(ctx, nil, mgr)
		if err != nil {
			return err
		}
		defer ws.Close(ctx)

		res, err := ws.Backup(ctx)
		if res.Path == "" && err != nil {
			return err
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning:", err)
		}
		if jsonOut {
			return printJSON(res)
		}
		fmt.Println(res.Path)
		if res.Remote != "" {
			fmt.Println(res.Remote)
		}
		for _, p := range res.Pruned {
			fmt.Println("pruned", p)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Database size and record counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
			st, err := ws.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(st)
			}
			fmt.Printf("%s\n  leads    %d\n  updates  %d\n  size     %.2f MB\n", st.Path, st.Leads, st.Updates, st.SizeMB)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the dashboard API token in the OS keychain",
}

var tokenRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Create a new API token, replacing any existing one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := secrets.RotateAPIToken()
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var tokenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the API token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := secrets.GetAPIToken()
		if errors.Is(err, secrets.ErrNoToken) {
			return errors.New(`no API token set; run "leadtrack token rotate"`)
		}
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the API token; the API then accepts unauthenticated writes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return secrets.DeleteAPIToken()
	},
}

func init() {
	agendaCmd.Flags().IntVar(&agendaDays, "days", 7, "upcoming window in days")
	backupCmd.Flags().StringVar(&backupTo, "to", "", "also upload to s3://bucket/prefix")

	tokenCmd.AddCommand(tokenRotateCmd, tokenShowCmd, tokenDeleteCmd)
	rootCmd.AddCommand(analyticsCmd, agendaCmd, backupCmd, statsCmd, tokenCmd)
}

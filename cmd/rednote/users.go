package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage stored user sessions.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored user sessions.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				users, err := a.svc.Users(cmd.Context())
				if err != nil {
					return err
				}
				if a.jsonOutput {
					views := make([]userView, 0, len(users))
					for _, u := range users {
						views = append(views, viewOf(u))
					}
					return printJSON(views)
				}

				t := newTable()
				t.AppendHeader(table.Row{"User ID", "Nickname", "Red ID", "Status", "Cookies", "Last login"})
				for _, u := range users {
					status := "expired"
					if u.Active {
						status = "active"
					}
					lastLogin := "-"
					if !u.LastLoginAt.IsZero() {
						lastLogin = u.LastLoginAt.Local().Format(time.DateTime)
					}
					t.AppendRow(table.Row{u.UserID, u.Nickname, u.RedID, status, len(u.Cookies), lastLogin})
				}
				t.AppendFooter(table.Row{"", "", "", "Total", len(users)})
				t.Render()
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <user-id>",
			Short: "Delete a stored user session.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.svc.DeleteUser(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

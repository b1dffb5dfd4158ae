package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/rednote/pkg/login"
	"github.com/entrhq/rednote/pkg/service"
	"github.com/entrhq/rednote/pkg/types"
)

// Exit statuses for non-success outcomes.
const (
	exitFailed       = 1
	exitLoginExpired = 3
	exitInterrupted  = 130
)

func newSearchCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Collect the search results for a keyword.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.svc.Search(cmd.Context(), userID, strings.Join(args, " "), types.Listener{})
			if err != nil {
				return err
			}
			res, err := follow(cmd.Context(), a, task)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(res)
			}
			printNotes(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id whose session is used")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newDetailCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "detail <note-url>",
		Short: "Extract the title, body, tags and images of a note.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.svc.Detail(cmd.Context(), userID, args[0], types.Listener{})
			if err != nil {
				return err
			}
			note, err := follow(cmd.Context(), a, task)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(note)
			}
			printDetail(note)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id whose session is used")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	var (
		userID  string
		file    string
		request types.PublishRequest
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an image note.",
		Long: `Publish an image note. Images are local files or http(s) URLs; URLs are
downloaded to scratch files that are removed afterwards. A request file holds
title, content, tags and images as YAML; flags override its fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := types.PublishRequest{}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(raw, &req); err != nil {
					return fmt.Errorf("invalid request file %s: %w", file, err)
				}
			}
			if request.Title != "" {
				req.Title = request.Title
			}
			if request.Content != "" {
				req.Content = request.Content
			}
			if len(request.Tags) > 0 {
				req.Tags = request.Tags
			}
			if len(request.ImagePaths) > 0 {
				req.ImagePaths = request.ImagePaths
			}

			task, err := a.svc.Publish(cmd.Context(), userID, req, types.Listener{})
			if err != nil {
				return err
			}
			receipt, err := follow(cmd.Context(), a, task)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return printJSON(receipt)
			}
			fmt.Printf("Published %q with %d images (attempt %d)\n", receipt.Title, receipt.ImageCount, receipt.Attempts)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&userID, "user", "u", "", "user id whose session is used")
	flags.StringVarP(&file, "file", "f", "", "YAML request file")
	flags.StringVar(&request.Title, "title", "", "note title")
	flags.StringVar(&request.Content, "content", "", "note body")
	flags.StringSliceVar(&request.Tags, "tag", nil, "topic tag, repeatable")
	flags.StringSliceVar(&request.ImagePaths, "image", nil, "image path or URL, repeatable")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Open a login window and store the session of whoever logs in.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := follow(cmd.Context(), a, a.svc.Login(cmd.Context(), types.Listener{}))
			if err != nil {
				return err
			}
			return printLogin(a, res)
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <user-id>",
		Short: "Check whether a stored session is still logged in.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.svc.Check(cmd.Context(), args[0], types.Listener{})
			if err != nil {
				return err
			}
			res, err := follow(cmd.Context(), a, task)
			if err != nil {
				return err
			}
			return printLogin(a, res)
		},
	}
}

func newAuthCmd(a *app) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Use a valid stored session, or log in interactively when none is valid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := a.svc.Authenticate(cmd.Context(), userID, types.Listener{})
			if err != nil {
				return err
			}
			res, err := follow(cmd.Context(), a, task)
			if err != nil {
				return err
			}
			return printLogin(a, res)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "only try this user's session before logging in")
	return cmd
}

// follow renders the task's events until it completes and maps a
// non-success outcome onto an exit status.
func follow[T any](ctx context.Context, a *app, task *service.Task[T]) (T, error) {
	for e := range task.Events() {
		if !a.quiet {
			renderEvent(os.Stderr, e)
		}
	}
	outcome := task.Wait(ctx)
	if outcome.OK() {
		return outcome.Value, nil
	}

	var zero T
	switch outcome.Status {
	case types.StatusLoginExpired:
		return zero, exitf(exitLoginExpired, "login expired: %s (run `rednote auth` to log in again)", outcome.Reason)
	case types.StatusInterrupted:
		return zero, exitf(exitInterrupted, "interrupted: %s", outcome.Reason)
	default:
		return zero, exitf(exitFailed, "%s failed: %s", task.Operation(), outcome.Reason)
	}
}

func printLogin(a *app, res login.Result) error {
	if a.jsonOutput {
		return printJSON(struct {
			userView
			Assumed bool `json:"assumed"`
		}{viewOf(res.Session), res.Assumed})
	}
	name := res.Session.UserID
	if res.Session.Nickname != "" {
		name = fmt.Sprintf("%s (%s)", res.Session.Nickname, res.Session.UserID)
	}
	suffix := ""
	if res.Assumed {
		suffix = " (assumed, no identity response was seen)"
	}
	fmt.Printf("Logged in as %s%s\n", name, suffix)
	return nil
}

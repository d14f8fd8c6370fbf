package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blackmichael/clipfeed/internal/api"
	"github.com/blackmichael/clipfeed/internal/config"
	"github.com/blackmichael/clipfeed/internal/domain"
)

type options struct {
	apiURL string
	token  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "clipctl",
		Short:         "Talk to the clip feed API directly",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.apiURL == "" {
				opts.apiURL = cfg.APIURL
			}
			if opts.token == "" {
				opts.token = cfg.Token
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "API base URL (default from CLIPFEED_API_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (default from CLIPFEED_TOKEN)")

	root.AddCommand(
		newPostsCmd(opts),
		newStatsCmd(opts),
		newCommentsCmd(opts),
		newLikeCmd(opts, true),
		newLikeCmd(opts, false),
		newCommentCmd(opts),
		newPublishCmd(opts),
		newRemoveCmd(opts, true),
		newRemoveCmd(opts, false),
	)
	return root
}

func (o *options) client() *api.Client {
	return api.NewClient(o.apiURL, o.token)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPostsCmd(opts *options) *cobra.Command {
	var (
		scope       domain.Scope
		page, limit int
	)
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List a page of posts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.client().ListPosts(cmd.Context(), scope, page, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&scope.AuthorID, "author", "", "only posts by this author id")
	cmd.Flags().StringVar(&scope.Query, "query", "", "search query")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats POST_ID",
		Short: "Show the like and comment counts of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := opts.client().GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newCommentsCmd(opts *options) *cobra.Command {
	var (
		parent      string
		page, limit int
	)
	cmd := &cobra.Command{
		Use:   "comments POST_ID",
		Short: "List comments, or the replies to one comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().ListComments(cmd.Context(), args[0], parent, page, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "list replies to this comment id")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	return cmd
}

func newLikeCmd(opts *options, like bool) *cobra.Command {
	use, short := "like POST_ID", "Like a post"
	if !like {
		use, short = "unlike POST_ID", "Remove your like from a post"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			call := c.LikePost
			if !like {
				call = c.UnlikePost
			}
			if err := call(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cmd.Name(), args[0])
			return nil
		},
	}
}

func newCommentCmd(opts *options) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "comment POST_ID TEXT",
		Short: "Comment on a post, or reply with --parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().CreateComment(cmd.Context(), args[0], args[1], parent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "comment sent to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "reply to this comment id")
	return cmd
}

func newPublishCmd(opts *options) *cobra.Command {
	var clipID, projectID, link, title string
	cmd := &cobra.Command{
		Use:   "publish TEXT",
		Short: "Publish a post with an optional attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := domain.PostDraft{Body: args[0]}
			switch {
			case clipID != "":
				draft.Attachment = &domain.Attachment{Kind: domain.AttachmentAudio, ClipID: clipID}
			case projectID != "":
				draft.Attachment = &domain.Attachment{Kind: domain.AttachmentProject, ProjectID: projectID}
			case link != "":
				draft.Attachment = &domain.Attachment{Kind: domain.AttachmentLink, URL: link, Title: title}
			}
			post, err := opts.client().CreatePost(cmd.Context(), draft)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), post)
		},
	}
	cmd.Flags().StringVar(&clipID, "clip", "", "attach an audio clip id")
	cmd.Flags().StringVar(&projectID, "project", "", "attach a project id")
	cmd.Flags().StringVar(&link, "link", "", "attach a link")
	cmd.Flags().StringVar(&title, "title", "", "title of the attached link")
	cmd.MarkFlagsMutuallyExclusive("clip", "project", "link")
	return cmd
}

func newRemoveCmd(opts *options, archive bool) *cobra.Command {
	use, short := "archive POST_ID", "Archive one of your posts"
	if !archive {
		use, short = "delete POST_ID", "Permanently delete one of your posts"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			call := c.ArchivePost
			if !archive {
				call = c.DeletePost
			}
			if err := call(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", cmd.Name(), args[0])
			return nil
		},
	}
}

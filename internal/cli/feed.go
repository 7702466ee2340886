package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/internal/feed"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

func errLoginRequired() error {
	return apperrors.Unauthorized(feed.MsgLoginRequired)
}

// postFailure maps a publishing error to its message.
func postFailure(err error, fallback string) error {
	if errors.Is(err, apperrors.ErrNotVerified) {
		return &displayError{msg: feed.MsgPendingApproval, err: err}
	}
	return fail(err, fallback)
}

func feedCommand(e *Env) *Command {
	var page int
	return &Command{
		Name:    "feed",
		Summary: "List the latest posts",
		Usage:   "campusfeed feed [--page N]",
		Flags: func() *pflag.FlagSet {
			page = 1
			fs := pflag.NewFlagSet("feed", pflag.ContinueOnError)
			fs.IntVar(&page, "page", 1, "page number")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			if u := c.Session.User(); u != nil && !u.IsVerified {
				fmt.Fprintln(e.Err, feed.MsgPendingApproval)
			}

			p, err := c.Feed.FeedPage(ctx, page)
			if err != nil {
				return fail(err, feed.MsgLoadFeedFailed)
			}
			if len(p.Results) == 0 {
				fmt.Fprintln(e.Out, "No posts yet.")
				return nil
			}
			for i := range p.Results {
				printPostSummary(e, &p.Results[i])
			}
			if p.HasNext {
				fmt.Fprintf(e.Out, "More: campusfeed feed --page %d\n", max(page, 1)+1)
			}
			return nil
		},
	}
}

func printPostSummary(e *Env, p *domain.Post) {
	liked := ""
	if p.IsLiked {
		liked = ", liked"
	}
	fmt.Fprintf(e.Out, "[%d] %s\n", p.ID, p.Title)
	fmt.Fprintf(e.Out, "    by %s, %d likes%s\n", feed.AuthorName(p), p.LikesCount, liked)
	fmt.Fprintf(e.Out, "    %s\n\n", feed.Excerpt(p.Content))
}

func postCommand(e *Env) *Command {
	return &Command{
		Name:    "post",
		Summary: "Read, publish, edit or delete posts",
		Subcommands: []*Command{
			postShowCommand(e),
			postWriteCommand(e, "new"),
			postWriteCommand(e, "edit"),
			postDeleteCommand(e),
		},
	}
}

func postShowCommand(e *Env) *Command {
	return &Command{
		Name:    "show",
		Summary: "Show a post with its comments",
		Usage:   "campusfeed post show <id>",
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a post id"); err != nil {
				return err
			}
			id, err := parseID(args[0], "post id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			view, err := c.Feed.Post(ctx, id)
			if err != nil {
				return &displayError{msg: feed.LoadErrorMessage(err), err: err}
			}
			printPostView(e, view)
			return nil
		},
	}
}

func printPostView(e *Env, view *feed.PostView) {
	p := view.Post
	fmt.Fprintf(e.Out, "%s\n", p.Title)
	fmt.Fprintf(e.Out, "by %s on %s, %d likes\n", feed.AuthorName(p), p.CreatedAt.Local().Format("2 Jan 2006 15:04"), p.LikesCount)
	if p.Image != "" {
		fmt.Fprintf(e.Out, "Image: %s\n", p.Image)
	}
	fmt.Fprintf(e.Out, "\n%s\n", p.Content)

	fmt.Fprintf(e.Out, "\nComments (%d)\n", len(view.Comments))
	tw := tabwriter.NewWriter(e.Out, 2, 0, 2, ' ', 0)
	for _, cm := range view.Comments {
		fmt.Fprintf(tw, "  #%d\t%s\t%s\n", cm.ID, cm.AuthorLabel(), cm.Content)
	}
	tw.Flush()
}

func postWriteCommand(e *Env, name string) *Command {
	var title, content, image string
	usage := "campusfeed post new --title <title> --content <text> [--image <file>]"
	summary := "Publish a post (verified students only)"
	if name == "edit" {
		usage = "campusfeed post edit <id> --title <title> --content <text> [--image <file>]"
		summary = "Replace one of your posts"
	}
	return &Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
		Flags: func() *pflag.FlagSet {
			title, content, image = "", "", ""
			fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
			fs.StringVarP(&title, "title", "t", "", "post title")
			fs.StringVarP(&content, "content", "c", "", "post body; - reads it from stdin")
			fs.StringVar(&image, "image", "", "path to an image to attach")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			var id int64
			if name == "edit" {
				if err := exactArgs(args, 1, "a post id"); err != nil {
					return err
				}
				var err error
				if id, err = parseID(args[0], "post id"); err != nil {
					return err
				}
			}

			c, err := e.Client(ctx)
			if err != nil {
				return err
			}

			if content == "-" {
				var b strings.Builder
				for {
					line, err := e.readLine("")
					if err != nil {
						break
					}
					b.WriteString(line)
					b.WriteByte('\n')
				}
				content = strings.TrimRight(b.String(), "\n")
			}
			in := domain.PostInput{Title: title, Content: content}
			if image != "" {
				f, err := os.Open(image)
				if err != nil {
					return fmt.Errorf("open image: %w", err)
				}
				defer f.Close()
				in.Image = &domain.File{Name: filepath.Base(image), Reader: f}
			}

			var p *domain.Post
			if name == "edit" {
				p, err = c.Feed.UpdatePost(ctx, id, in)
			} else {
				p, err = c.Feed.CreatePost(ctx, in)
			}
			if err != nil {
				return postFailure(err, "Failed to save post.")
			}
			fmt.Fprintf(e.Out, "Saved post %d.\n", p.ID)
			return nil
		},
	}
}

func postDeleteCommand(e *Env) *Command {
	return &Command{
		Name:    "delete",
		Summary: "Delete one of your posts",
		Usage:   "campusfeed post delete <id>",
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a post id"); err != nil {
				return err
			}
			id, err := parseID(args[0], "post id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			if err := c.Feed.DeletePost(ctx, id); err != nil {
				return fail(err, "Failed to delete post.")
			}
			fmt.Fprintf(e.Out, "Deleted post %d.\n", id)
			return nil
		},
	}
}

func likeCommand(e *Env) *Command {
	return &Command{
		Name:    "like",
		Summary: "Like or unlike a post",
		Usage:   "campusfeed like <post id>",
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a post id"); err != nil {
				return err
			}
			id, err := parseID(args[0], "post id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			p := &domain.Post{ID: id}
			if err := c.Feed.ToggleLike(ctx, p); err != nil {
				return fail(err, "Failed to like post.")
			}
			verb := "Unliked"
			if p.IsLiked {
				verb = "Liked"
			}
			fmt.Fprintf(e.Out, "%s post %d (%d likes).\n", verb, id, p.LikesCount)
			return nil
		},
	}
}

func commentsCommand(e *Env) *Command {
	add := &Command{
		Name:    "add",
		Summary: "Comment on a post",
		Usage:   "campusfeed comment add <post id> <text...>",
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("%w: expected a post id and the comment text", ErrUsage)
			}
			id, err := parseID(args[0], "post id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			view := &feed.PostView{Post: &domain.Post{ID: id}}
			cm, err := c.Feed.AddComment(ctx, view, strings.Join(args[1:], " "))
			if err != nil {
				return fail(err, "Failed to add comment.")
			}
			if cm == nil {
				fmt.Fprintln(e.Out, "Nothing to post.")
				return nil
			}
			fmt.Fprintf(e.Out, "Added comment %d.\n", cm.ID)
			return nil
		},
	}

	del := &Command{
		Name:    "delete",
		Summary: "Delete one of your comments",
		Usage:   "campusfeed comment delete <post id> <comment id>",
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 2, "a post id and a comment id"); err != nil {
				return err
			}
			postID, err := parseID(args[0], "post id")
			if err != nil {
				return err
			}
			commentID, err := parseID(args[1], "comment id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			comments, err := c.API.ListComments(ctx, postID)
			if err != nil {
				return fail(err, feed.MsgLoadPostFailed)
			}
			view := &feed.PostView{Post: &domain.Post{ID: postID}, Comments: comments}
			if err := c.Feed.DeleteComment(ctx, view, commentID); err != nil {
				return fail(err, "Failed to delete comment.")
			}
			fmt.Fprintf(e.Out, "Deleted comment %d.\n", commentID)
			return nil
		},
	}

	return &Command{
		Name:        "comment",
		Summary:     "Add or delete comments",
		Subcommands: []*Command{add, del},
	}
}

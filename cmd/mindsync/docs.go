package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
	"github.com/skillre/mindmap-qoder/internal/preview"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories the token can see",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		visibility, _ := cmd.Flags().GetString("type")
		repos, err := s.store.ListRepositories(cmd.Context(), visibility)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, r := range repos {
			vis := "public"
			if r.Private {
				vis = "private"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.FullName, vis, r.Description)
		}
		return w.Flush()
	},
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches of the configured repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		branches, err := s.store.ListBranches(cmd.Context(), s.profile.Repository())
		if err != nil {
			return err
		}
		current := s.profile.Repository().Ref()
		for _, b := range branches {
			mark := " "
			if b.Name == current {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, b.Name)
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List documents",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}
		dir := s.profile.Directory()
		if len(args) == 1 {
			dir = args[0]
		}
		entries, err := svc.List(cmd.Context(), dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no documents")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\n", e.Path, e.Token, e.Size)
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Download a document's tree (or its full envelope)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}
		tr, err := svc.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		env := tr.Envelope()

		var out []byte
		if full, _ := cmd.Flags().GetBool("envelope"); full {
			out, err = codec.MarshalEnvelope(env)
		} else {
			out, err = json.MarshalIndent(env.Data, "", "  ")
		}
		if err != nil {
			return err
		}
		out = append(out, '\n')

		if dest, _ := cmd.Flags().GetString("output"); dest != "" {
			if err := os.WriteFile(dest, out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (sha %s)\n", tr.Path(), dest, tr.Token())
			return nil
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Upload a local tree file",
	Long: `Upload a local tree file. Without --sha the document must not exist yet;
with --sha the remote document must still be at that version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args[0])
		if err != nil {
			return err
		}
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		target, _ := flags.GetString("path")
		sha, _ := flags.GetString("sha")
		message, _ := flags.GetString("message")
		if target == "" {
			target = defaultTarget(s.profile.Directory(), payload)
		}

		tr, err := svc.Resume(cmd.Context(), naming.WithExt(target), sha)
		if err != nil {
			return err
		}
		res, err := svc.Save(cmd.Context(), tr, payload, message)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tr.Path(), res.Token)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a document at a known version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sha, _ := cmd.Flags().GetString("sha")
		message, _ := cmd.Flags().GetString("message")
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}
		tr, err := svc.Resume(cmd.Context(), args[0], sha)
		if err != nil {
			return err
		}
		if err := svc.Delete(cmd.Context(), tr, message); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <path>",
	Short: "Print a document as a Markdown outline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context(), cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}
		tr, err := svc.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asHTML, _ := cmd.Flags().GetBool("html"); asHTML {
			html, err := preview.NewRenderer().RenderDocument(tr.Envelope())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(html)
			return err
		}
		outline, err := preview.Outline(tr.Envelope().Data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), outline)
		return err
	},
}

// readPayload reads a tree file. A stored envelope (as written by
// get --envelope) is accepted too, in which case only its data is sent.
func readPayload(name string) (json.RawMessage, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var shape struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return nil, fmt.Errorf("%s: %w", name, codec.ErrMalformed)
	}
	if len(shape.Metadata) > 0 {
		env, err := codec.UnmarshalEnvelope(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return env.Data, nil
	}
	return json.RawMessage(b), nil
}

// defaultTarget names a new document after the tree's root title.
func defaultTarget(dir string, payload json.RawMessage) string {
	title := codec.TitleOf(payload)
	if dir == naming.DocumentRoot {
		return naming.DefaultPath(title, now())
	}
	return dir + "/" + naming.WithExt(naming.DefaultFileName(title, now()))
}

func init() {
	reposCmd.Flags().String("type", "private", "visibility filter: all, public or private")

	getCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	getCmd.Flags().Bool("envelope", false, "print the stored envelope instead of the tree")

	pushCmd.Flags().String("path", "", "remote path (default: derived from the root title)")
	pushCmd.Flags().String("sha", "", "version being replaced")
	pushCmd.Flags().StringP("message", "m", "", "commit message")

	rmCmd.Flags().String("sha", "", "version being deleted")
	rmCmd.Flags().StringP("message", "m", "", "commit message")
	rmCmd.MarkFlagRequired("sha")

	previewCmd.Flags().Bool("html", false, "render HTML instead of Markdown")

	rootCmd.AddCommand(reposCmd, branchesCmd, lsCmd, getCmd, pushCmd, rmCmd, previewCmd)
}

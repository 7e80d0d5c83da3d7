package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skillre/mindmap-qoder/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify a token and save it with the target repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		token, _ := flags.GetString("token")
		if token == "" {
			var err error
			if token, err = readToken(cmd); err != nil {
				return err
			}
		}

		p := &config.Profile{Token: strings.TrimSpace(token)}
		p.Owner, _ = flags.GetString("owner")
		p.Repo, _ = flags.GetString("repo")
		p.Branch, _ = flags.GetString("branch")
		p.Dir, _ = flags.GetString("dir")
		p.BaseURL, _ = flags.GetString("base-url")
		p.AutoSaveSeconds, _ = flags.GetInt("interval")

		store, err := newProvider(p, newLogger(cmd)).GetAdapter(cmd.Context(), p.Token)
		if err != nil {
			return err
		}
		identity, err := store.VerifyCredential(cmd.Context())
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}
		p.Login = identity.Login
		if p.Owner == "" {
			p.Owner = identity.Login
		}
		if err := p.Validate(); err != nil {
			return err
		}

		path, err := resolveProfilePath()
		if err != nil {
			return err
		}
		if err := config.WriteProfile(path, p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", identity.Login, identity.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "Repository: %s@%s\n", p.Repository().FullName(), p.Repository().Ref())
		fmt.Fprintf(cmd.OutOrStdout(), "Profile saved to %s\n", path)
		return nil
	},
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "GitHub token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading token: %w", err)
	}
	if strings.TrimSpace(line) == "" {
		return "", fmt.Errorf("no token given")
	}
	return line, nil
}

func init() {
	f := loginCmd.Flags()
	f.String("token", "", "token (prompted when omitted)")
	f.String("owner", "", "repository owner (defaults to the token's login)")
	f.String("repo", "", "repository name")
	f.String("branch", "", "branch (default main)")
	f.String("dir", "", "document directory (default mindmaps)")
	f.String("base-url", "", "API base URL (default https://api.github.com)")
	f.Int("interval", 0, "auto-save interval in seconds for watch")
	loginCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(loginCmd)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudmon/internal/identity"
)

// Token state constants for whoami reporting.
const (
	tokenStateValid   = "valid"
	tokenStateExpired = "expired"
)

func newSigninCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Store a cloud identity token",
		Long: `Store the identity token that marks the cloud as available. The token is
taken from --token, or read from stdin as an OAuth2 token JSON object
({"access_token": "...", "token_type": "Bearer", "expiry": "..."}).

Examples:
  cloudmon signin --account me@example.com --token abc123
  provider-token-helper | cloudmon signin --account me@example.com`,
		Args: cobra.NoArgs,
		RunE: runSignin,
	}

	cmd.Flags().String("account", "", "account name recorded with the token")
	cmd.Flags().String("token", "", "access token (reads token JSON from stdin when omitted)")
	cmd.Flags().Duration("expires-in", 0, "token lifetime when using --token (0 = no expiry)")

	return cmd
}

func newSignoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Remove the stored cloud identity token",
		Args:  cobra.NoArgs,
		RunE:  runSignout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in cloud account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runSignin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	flags := cmd.Flags()

	account, err := flags.GetString("account")
	if err != nil {
		return err
	}

	access, err := flags.GetString("token")
	if err != nil {
		return err
	}

	expiresIn, err := flags.GetDuration("expires-in")
	if err != nil {
		return err
	}

	var tok *oauth2.Token
	if access != "" {
		tok = &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
		if expiresIn > 0 {
			tok.Expiry = time.Now().Add(expiresIn)
		}
	} else {
		tok, err = readToken(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	if err := identity.Save(cc.Cfg.IdentityPath, &identity.Identity{Account: account, Token: tok}); err != nil {
		return err
	}

	cc.Logger.Info("signed in", "account", account, "path", cc.Cfg.IdentityPath)
	cc.Statusf("Signed in.\n")

	return nil
}

// readToken decodes an oauth2 token JSON object.
func readToken(r io.Reader) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.NewDecoder(r).Decode(&tok); err != nil {
		return nil, fmt.Errorf("reading token JSON from stdin: %w", err)
	}

	if tok.AccessToken == "" {
		return nil, errors.New("token JSON has no access_token")
	}

	return &tok, nil
}

func runSignout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := identity.Remove(cc.Cfg.IdentityPath); err != nil {
		return err
	}

	cc.Logger.Info("signed out", "path", cc.Cfg.IdentityPath)
	cc.Statusf("Signed out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Account    string     `json:"account"`
	TokenType  string     `json:"token_type"`
	TokenState string     `json:"token_state"`
	Expiry     *time.Time `json:"expiry,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	id, err := identity.Load(cc.Cfg.IdentityPath)
	if err != nil {
		return err
	}

	if id == nil {
		return errors.New("not signed in: run 'cloudmon signin' first")
	}

	out := newWhoamiOutput(id)

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printWhoamiText(os.Stdout, out)

	return nil
}

func newWhoamiOutput(id *identity.Identity) whoamiOutput {
	out := whoamiOutput{
		Account:    id.Account,
		TokenType:  id.Token.Type(),
		TokenState: tokenStateValid,
	}

	if !id.Token.Expiry.IsZero() {
		expiry := id.Token.Expiry
		out.Expiry = &expiry

		if !id.Token.Valid() {
			out.TokenState = tokenStateExpired
		}
	}

	return out
}

func printWhoamiText(w io.Writer, out whoamiOutput) {
	account := out.Account
	if account == "" {
		account = "(unnamed)"
	}

	fmt.Fprintf(w, "Account: %s\n", account)
	fmt.Fprintf(w, "Token:   %s (%s)\n", out.TokenState, out.TokenType)

	if out.Expiry != nil {
		fmt.Fprintf(w, "Expires: %s\n", out.Expiry.Local().Format(time.RFC3339))
	}
}

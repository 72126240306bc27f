package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

func newExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain <code>",
		Short: "Classify a provider error code and show its description",
		Long: `Map a provider error code onto the synchronization error taxonomy and
print the localized message a user would see.

Examples:
  cloudmon explain 4354
  cloudmon explain 4355 --lang de`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.ExactArgs(1),
		RunE:        runExplain,
	}

	cmd.Flags().String("lang", "en", "message language (BCP 47 tag)")

	return cmd
}

// explanation is the JSON schema for `explain --json`.
type explanation struct {
	Code        int    `json:"code"`
	Classified  bool   `json:"classified"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid code %q: must be an integer", args[0])
	}

	langFlag, err := cmd.Flags().GetString("lang")
	if err != nil {
		return err
	}

	tag, err := language.Parse(langFlag)
	if err != nil {
		return fmt.Errorf("invalid --lang %q: %w", langFlag, err)
	}

	ex := explain(syncerr.Code(code), tag)

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(ex)
	}

	printExplanation(os.Stdout, ex)

	return nil
}

func explain(code syncerr.Code, tag language.Tag) explanation {
	kind, ok := syncerr.Classify(code)

	return explanation{
		Code:        int(code),
		Classified:  ok,
		Kind:        kind.String(),
		Description: syncerr.Description(kind),
		Message:     syncerr.Localize(kind, tag),
	}
}

func printExplanation(w io.Writer, ex explanation) {
	if ex.Classified {
		fmt.Fprintf(w, "Code %d: %s\n", ex.Code, ex.Kind)
	} else {
		fmt.Fprintf(w, "Code %d: not a known provider code (reported as %s)\n", ex.Code, ex.Kind)
	}

	fmt.Fprintf(w, "Key:     %s\n", ex.Description)
	fmt.Fprintf(w, "Message: %s\n", ex.Message)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/castvox/internal/dispatch"
	"github.com/MrWong99/castvox/pkg/obsws"
)

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect command rule files",
	}
	rules.AddCommand(newRulesCheckCmd(), newRulesTryCmd())
	return rules
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file|url>",
		Short: "Load a rule file and report every invalid rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := dispatch.New()
			if err := e.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules ok\n", args[0], e.Len())
			return nil
		},
	}
}

func newRulesTryCmd() *cobra.Command {
	var placeholders map[string]string
	cmd := &cobra.Command{
		Use:   "try <file|url> <utterance>",
		Short: "Parse one utterance and print the dispatch result as JSON",
		Long: `Parse one utterance against a rule file and print the result.

Placeholders the console normally supplies can be set with --set:

  castvox rules try commands.json "privacy please" --set '$privacySource=7' --set '$true=true'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := dispatch.New()
			if err := e.Load(cmd.Context(), args[0]); err != nil {
				return err
			}
			ps := make([]dispatch.Placeholder, 0, len(placeholders))
			for name, value := range placeholders {
				ps = append(ps, dispatch.Placeholder{Name: name, Value: value})
			}
			// Longest name first so $lastScene cannot eat the head of $lastSceneUuid.
			slices.SortFunc(ps, func(a, b dispatch.Placeholder) int {
				if d := len(b.Name) - len(a.Name); d != 0 {
					return d
				}
				return strings.Compare(a.Name, b.Name)
			})
			res, ok := e.Parse(args[1], ps...)
			if !ok {
				return errors.New("no rule matched")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Rule     int             `json:"rule"`
				Action   dispatch.Action `json:"action"`
				Command  string          `json:"command"`
				Args     []any           `json:"args"`
				Response string          `json:"response"`
			}{res.Rule, res.Action, res.Command, jsonArgs(res.Args), res.Response})
		},
	}
	cmd.Flags().StringToStringVar(&placeholders, "set", nil, "placeholder value as $name=value (repeatable)")
	return cmd
}

// jsonArgs replaces non-finite numbers, which encoding/json rejects, with
// their string form.
func jsonArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if f, ok := a.(float64); ok {
			if _, err := json.Marshal(f); err != nil {
				out[i] = fmt.Sprint(f)
				continue
			}
		}
		out[i] = a
	}
	return out
}

func newAuthCmd() *cobra.Command {
	var password, salt, challenge string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Compute the compositor identify authentication string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if salt == "" || challenge == "" {
				return errors.New("--salt and --challenge are required")
			}
			fmt.Fprintln(cmd.OutOrStdout(), obsws.AuthResponse(password, salt, challenge))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "compositor password")
	cmd.Flags().StringVar(&salt, "salt", "", "salt from the Hello frame")
	cmd.Flags().StringVar(&challenge, "challenge", "", "challenge from the Hello frame")
	return cmd
}

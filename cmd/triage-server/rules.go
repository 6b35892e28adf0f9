package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/instantmed/triage/internal/config"
	"github.com/instantmed/triage/internal/domain/safety"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect safety rule files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Load and validate a rule file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			rs, source, err := loadRules(path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", source, err)
				return err
			}
			printSummary(cmd.OutOrStdout(), source, rs)
			return nil
		},
	}
	cmd.AddCommand(validateCmd)

	showCmd := &cobra.Command{
		Use:   "show [service-type]",
		Short: "Print configured rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("rules")
			rs, _, err := loadRules(path)
			if err != nil {
				return err
			}
			services := rs.ServiceTypes()
			if len(args) == 1 {
				services = []safety.ServiceType{safety.ServiceType(args[0])}
			}
			for _, st := range services {
				rules, err := rs.RulesFor(st)
				if err != nil {
					return err
				}
				printRules(cmd.OutOrStdout(), st, rules)
			}
			return nil
		},
	}
	showCmd.Flags().String("rules", "", "Rule file (default: RULES_FILE or built-in rules)")
	cmd.AddCommand(showCmd)

	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate intake answers offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("rules")
			service, _ := cmd.Flags().GetString("service")
			answersFile, _ := cmd.Flags().GetString("answers")
			followUpFile, _ := cmd.Flags().GetString("follow-up")
			asJSON, _ := cmd.Flags().GetBool("json")

			rs, _, err := loadRules(path)
			if err != nil {
				return err
			}
			answers, err := readAnswers(answersFile)
			if err != nil {
				return err
			}
			var followUp safety.Answers
			if followUpFile != "" {
				if followUp, err = readAnswers(followUpFile); err != nil {
					return err
				}
			}

			result, err := evaluate(safety.NewEvaluator(rs), safety.ServiceType(service), answers, followUp)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			} else {
				printResult(cmd.OutOrStdout(), result)
			}
			return err
		},
	}
	cmd.Flags().String("service", "", "Service type (med_cert, prescription, consult)")
	cmd.Flags().String("answers", "", "JSON file with intake answers")
	cmd.Flags().String("follow-up", "", "JSON file with follow-up answers")
	cmd.Flags().String("rules", "", "Rule file (default: RULES_FILE or built-in rules)")
	cmd.Flags().Bool("json", false, "Print the raw result as JSON")
	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("answers")
	return cmd
}

// loadRules loads path, falling back to RULES_FILE and then the built-in
// rules. It also returns a label for the source used.
func loadRules(path string) (*safety.RuleSet, string, error) {
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, "config", err
		}
		path = cfg.RulesFile
	}
	if path == "" {
		rs, err := safety.DefaultRuleSet()
		return rs, "built-in rules", err
	}
	rs, err := safety.LoadRuleSet(path)
	return rs, path, err
}

func readAnswers(path string) (safety.Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var answers safety.Answers
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse answers %s: %w", path, err)
	}
	return answers, nil
}

func evaluate(ev *safety.Evaluator, st safety.ServiceType, answers, followUp safety.Answers) (safety.EvaluationResult, error) {
	if followUp != nil {
		return ev.Reevaluate(st, answers, followUp)
	}
	return ev.Evaluate(st, answers)
}

func printSummary(w io.Writer, source string, rs *safety.RuleSet) {
	fmt.Fprintf(w, "%s: version %s, %d service type(s)\n", source, rs.Version(), len(rs.ServiceTypes()))
	fmt.Fprintf(w, "%-16s %-6s %-9s %s\n", "SERVICE", "RULES", "CRITICAL", "INERT")
	for _, s := range rs.Summary() {
		fmt.Fprintf(w, "%-16s %-6d %-9d %d\n", s.ServiceType, s.Rules, s.Critical, s.Inert)
	}
	warn := color.New(color.FgYellow)
	for _, ir := range rs.InertRules() {
		warn.Fprintf(w, "warning: %s/%s has no conditions and will never fire\n", ir.ServiceType, ir.RuleID)
	}
}

func printRules(w io.Writer, st safety.ServiceType, rules []safety.Rule) {
	color.New(color.Bold).Fprintf(w, "%s\n", st)
	for _, r := range rules {
		fmt.Fprintf(w, "  %s v%d  %s  [%s]  %s\n", r.ID, r.Version, outcomeColor(r.Outcome).Sprint(r.Outcome), r.RiskTier, r.Description)
		for _, c := range r.Conditions {
			if c.Operator == safety.OpIsPresent || c.Operator == safety.OpIsAbsent {
				fmt.Fprintf(w, "      %s %s\n", c.Field, c.Operator)
				continue
			}
			fmt.Fprintf(w, "      %s %s %s\n", c.Field, c.Operator, c.Value)
		}
		if len(r.FollowUpQuestions) > 0 {
			fmt.Fprintf(w, "      follow-up: %s\n", strings.Join(r.FollowUpQuestions, ", "))
		}
	}
}

func printResult(w io.Writer, result safety.EvaluationResult) {
	outcomeColor(result.Outcome).Add(color.Bold).Fprintf(w, "Outcome: %s\n", result.Outcome)
	if result.CriticalFired {
		color.New(color.FgRed).Fprintln(w, "Critical rule fired")
	}
	if len(result.TriggeredRules) > 0 {
		fmt.Fprintln(w, "Triggered rules:")
		for _, t := range result.TriggeredRules {
			fmt.Fprintf(w, "  [%s] %s v%d  %s  %s\n", t.RiskTier, t.RuleID, t.RuleVersion, t.Outcome, t.Description)
		}
	}
	if len(result.FollowUpQuestions) > 0 {
		fmt.Fprintln(w, "Follow-up questions:")
		for _, q := range result.FollowUpQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
	if result.RuleSetVersion != "" {
		fmt.Fprintf(w, "Rule set: %s\n", result.RuleSetVersion)
	}
}

func outcomeColor(o safety.Outcome) *color.Color {
	switch o {
	case safety.OutcomeBlockEmergency:
		return color.New(color.FgRed)
	case safety.OutcomeAllow:
		return color.New(color.FgGreen)
	}
	return color.New(color.FgYellow)
}

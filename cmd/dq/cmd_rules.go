// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianDQ/cmd/dq/config"
	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/rules"
)

var (
	rulesListTable    string
	rulesListState    string
	rulesCreateFile   string
	rulesRollbackVer  int
	rulesChangeReason string
	rulesDraftTable   string
	rulesDraftGoal    string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage detection rules and their lifecycle",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules, optionally filtered by table or state",
	Args:  cobra.NoArgs,
	Run:   runRulesList,
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a rule from a YAML file",
	Long: `Reads a rule definition (id, table, dimension, description,
predicate, severity) from --file and registers it PENDING.`,
	Args: cobra.NoArgs,
	Run:  runRulesCreate,
}

var rulesApproveCmd = &cobra.Command{
	Use:   "approve <rule-id>",
	Short: "Approve a pending rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runRuleTransition("approve", args[0], func(a *app) (quality.Rule, error) {
			return a.rules.Approve(args[0], actorName)
		})
	},
}

var rulesRejectCmd = &cobra.Command{
	Use:   "reject <rule-id>",
	Short: "Reject a pending rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runRuleTransition("reject", args[0], func(a *app) (quality.Rule, error) {
			return a.rules.Reject(args[0], actorName)
		})
	},
}

var rulesActivateCmd = &cobra.Command{
	Use:   "activate <rule-id>",
	Short: "Activate an approved rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runRuleTransition("activate", args[0], func(a *app) (quality.Rule, error) {
			return a.rules.Activate(args[0], actorName)
		})
	},
}

var rulesRollbackCmd = &cobra.Command{
	Use:   "rollback <rule-id>",
	Short: "Restore an earlier version's content as a new pending version",
	Args:  cobra.ExactArgs(1),
	Run:   runRulesRollback,
}

var rulesVersionsCmd = &cobra.Command{
	Use:   "versions <rule-id>",
	Short: "Show a rule's version history",
	Args:  cobra.ExactArgs(1),
	Run:   runRulesVersions,
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Derive built-in rules from the warehouse schema",
	Long: `Generates baseline rules from the schema: null checks on required
columns, format checks on recognizable column names, duplicate and
orphan checks on keys, outlier and staleness checks. New seeds are
approved and activated under the invoking --actor, which therefore must
not be an automated actor. Re-running refreshes existing seeds in place.`,
	Args: cobra.NoArgs,
	Run:  runRulesSeed,
}

var rulesDraftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Draft a rule from a plain-language goal",
	Long: `Asks the configured model to propose a rule for --table meeting
--goal. The draft lands PENDING under the machine actor and still needs
a human approve and activate.`,
	Args: cobra.NoArgs,
	Run:  runRulesDraft,
}

func init() {
	rulesListCmd.Flags().StringVar(&rulesListTable, "table", "", "Only rules for this table")
	rulesListCmd.Flags().StringVar(&rulesListState, "state", "", "Only rules in this lifecycle state")
	rulesCreateCmd.Flags().StringVar(&rulesCreateFile, "file", "", "YAML rule definition")
	rulesCreateCmd.MarkFlagRequired("file")
	rulesRollbackCmd.Flags().IntVar(&rulesRollbackVer, "version", 0, "Version to restore")
	rulesRollbackCmd.Flags().StringVar(&rulesChangeReason, "reason", "", "Why the rule is being rolled back")
	rulesRollbackCmd.MarkFlagRequired("version")
	rulesDraftCmd.Flags().StringVar(&rulesDraftTable, "table", "", "Table the rule targets")
	rulesDraftCmd.Flags().StringVar(&rulesDraftGoal, "goal", "", "Plain-language description of what to catch")
	rulesDraftCmd.MarkFlagRequired("table")
	rulesDraftCmd.MarkFlagRequired("goal")

	rulesCmd.AddCommand(rulesListCmd, rulesCreateCmd, rulesApproveCmd, rulesRejectCmd,
		rulesActivateCmd, rulesRollbackCmd, rulesVersionsCmd, rulesSeedCmd, rulesDraftCmd)
}

func runRulesList(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		list, err := a.rules.List(rules.Filter{
			Table: rulesListTable,
			State: quality.LifecycleState(rulesListState),
		})
		if err != nil {
			return OutputResult(outputConfig(), "rules list", start, nil, false, err)
		}
		humanf("%s %d rule(s)\n", render(styleHeader, "Rules"), len(list))
		for _, r := range list {
			humanf("  %-34s v%-3d %-12s %-12s %s %s\n",
				r.ID, r.Version, r.Table, r.Dimension,
				render(stateStyle(r.State), string(r.State)),
				render(styleDim, r.Description))
		}
		return OutputResult(outputConfig(), "rules list", start, list, false, nil)
	})
}

func runRulesCreate(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		raw, err := os.ReadFile(rulesCreateFile)
		if err != nil {
			return OutputResult(outputConfig(), "rules create", start, nil, false, err)
		}
		var rule quality.Rule
		if err := yaml.Unmarshal(raw, &rule); err != nil {
			return OutputResult(outputConfig(), "rules create", start, nil, false, err)
		}
		created, err := a.rules.Create(rule, actorName)
		if err != nil {
			return OutputResult(outputConfig(), "rules create", start, nil, false, err)
		}
		humanf("%s %s v%d %s\n", render(styleTitle, "created"), created.ID,
			created.Version, render(stateStyle(created.State), string(created.State)))
		return OutputResult(outputConfig(), "rules create", start, created, false, nil)
	})
}

func runRuleTransition(name, ruleID string, transition func(a *app) (quality.Rule, error)) {
	start := time.Now()
	withApp(func(a *app) int {
		rule, err := transition(a)
		if err != nil {
			return OutputResult(outputConfig(), "rules "+name, start, nil, false, err)
		}
		humanf("%s %s is now %s\n", render(styleTitle, name), rule.ID,
			render(stateStyle(rule.State), string(rule.State)))
		return OutputResult(outputConfig(), "rules "+name, start, rule, false, nil)
	})
}

func runRulesRollback(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		rule, err := a.rules.Rollback(args[0], rulesRollbackVer, actorName, rulesChangeReason)
		if err != nil {
			return OutputResult(outputConfig(), "rules rollback", start, nil, false, err)
		}
		humanf("%s %s restored v%d content as v%d, now %s\n",
			render(styleTitle, "rollback"), rule.ID, rulesRollbackVer, rule.Version,
			render(stateStyle(rule.State), string(rule.State)))
		return OutputResult(outputConfig(), "rules rollback", start, rule, false, nil)
	})
}

func runRulesVersions(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		versions, err := a.rules.ListVersions(args[0])
		if err != nil {
			return OutputResult(outputConfig(), "rules versions", start, nil, false, err)
		}
		humanf("%s %s, %d version(s)\n", render(styleHeader, "Versions"), args[0], len(versions))
		for _, v := range versions {
			reason := v.ChangeReason
			if reason == "" {
				reason = "-"
			}
			humanf("  v%-3d %s %-14s %s\n", v.VersionNumber,
				v.CreatedAt.Format(time.RFC3339), v.CreatedBy, render(styleDim, reason))
		}
		return OutputResult(outputConfig(), "rules versions", start, versions, false, nil)
	})
}

func runRulesSeed(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		count, err := a.rules.Seed(a.cfg.Warehouse.Schema, actorName)
		if err != nil {
			return OutputResult(outputConfig(), "rules seed", start, nil, false, err)
		}
		humanf("%s %d rule(s) installed\n", render(styleTitle, "seed"), count)
		return OutputResult(outputConfig(), "rules seed", start, map[string]int{"seeded": count}, false, nil)
	})
}

func runRulesDraft(cmd *cobra.Command, args []string) {
	start := time.Now()
	withApp(func(a *app) int {
		if err := config.ValidateDrafter(a.cfg); err != nil {
			return OutputResult(outputConfig(), "rules draft", start, nil, false, err)
		}
		drafter := rules.NewOpenAIDrafter(a.cfg.Drafter, a.warehouse.Schema())
		rule, err := a.rules.CreateDraft(context.Background(), drafter, rules.DraftRequest{
			Table: rulesDraftTable,
			Goal:  rulesDraftGoal,
		})
		if err != nil {
			return OutputResult(outputConfig(), "rules draft", start, nil, false, err)
		}
		humanf("%s %s (%s/%s) %s\n", render(styleTitle, "drafted"), rule.ID,
			rule.Table, rule.Dimension, render(stateStyle(rule.State), string(rule.State)))
		humanf("  %s\n", rule.Description)
		return OutputResult(outputConfig(), "rules draft", start, rule, false, nil)
	})
}

// stateStyle colors a lifecycle or issue state label.
func stateStyle(state quality.LifecycleState) lipgloss.Style {
	switch state {
	case quality.RuleActive:
		return styleGood
	case quality.RuleApproved:
		return styleWarn
	case quality.RuleRejected:
		return styleBad
	default:
		return styleDim
	}
}

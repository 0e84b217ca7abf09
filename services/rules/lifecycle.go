// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"fmt"

	"github.com/AleutianAI/AleutianDQ/services/quality"
)

// Lifecycle transitions. The only legal paths are
// PENDING → APPROVED → ACTIVE and PENDING → REJECTED; REJECTED is
// terminal. Machine actors never approve: a rule drafted by the system or
// the AI drafter must cross a human reviewer before it can run.

// Approve moves a PENDING rule to APPROVED.
func (s *Store) Approve(ruleID, actor string) (quality.Rule, error) {
	rule, err := s.Get(ruleID)
	if err != nil {
		return quality.Rule{}, err
	}
	if quality.AutomatedActor(actor) {
		s.audit(actor, quality.ActionApproveRule, ruleID, nil, quality.AuditFailed)
		return quality.Rule{}, quality.NewError(quality.ErrApprovalRequired, ruleID,
			fmt.Errorf("automated actor %q cannot approve rules", actor))
	}
	if rule.State != quality.RulePending {
		s.audit(actor, quality.ActionApproveRule, ruleID, nil, quality.AuditFailed)
		return quality.Rule{}, quality.NewError(quality.ErrValidation, ruleID,
			fmt.Errorf("cannot approve rule in state %s", rule.State))
	}
	rule.State = quality.RuleApproved
	if err := s.writeRule(rule); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionApproveRule, ruleID, nil, quality.AuditSuccess)
	return rule, nil
}

// Reject moves a PENDING rule to REJECTED. Terminal; a rejected rule can
// only be superseded by a new one.
func (s *Store) Reject(ruleID, actor string) (quality.Rule, error) {
	rule, err := s.Get(ruleID)
	if err != nil {
		return quality.Rule{}, err
	}
	if rule.State != quality.RulePending {
		s.audit(actor, quality.ActionRejectRule, ruleID, nil, quality.AuditFailed)
		return quality.Rule{}, quality.NewError(quality.ErrValidation, ruleID,
			fmt.Errorf("cannot reject rule in state %s", rule.State))
	}
	rule.State = quality.RuleRejected
	if err := s.writeRule(rule); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionRejectRule, ruleID, nil, quality.AuditSuccess)
	return rule, nil
}

// Activate moves an APPROVED rule to ACTIVE, making it evaluable.
func (s *Store) Activate(ruleID, actor string) (quality.Rule, error) {
	rule, err := s.Get(ruleID)
	if err != nil {
		return quality.Rule{}, err
	}
	if rule.State != quality.RuleApproved {
		s.audit(actor, quality.ActionActivateRule, ruleID, nil, quality.AuditFailed)
		return quality.Rule{}, quality.NewError(quality.ErrValidation, ruleID,
			fmt.Errorf("cannot activate rule in state %s", rule.State))
	}
	rule.State = quality.RuleActive
	if err := s.writeRule(rule); err != nil {
		return quality.Rule{}, err
	}
	s.audit(actor, quality.ActionActivateRule, ruleID, nil, quality.AuditSuccess)
	return rule, nil
}

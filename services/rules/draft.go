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
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianDQ/services/quality"
	"github.com/AleutianAI/AleutianDQ/services/warehouse"
)

// DraftRequest asks for a rule draft in plain language.
type DraftRequest struct {
	Table string
	Goal  string
}

// Drafter proposes a rule from a plain-language goal.
//
// A draft is a proposal, nothing more: it always lands PENDING under the
// machine actor and cannot reach ACTIVE without a human Approve.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (quality.Rule, error)
}

// OpenAIDrafter drafts rules through an OpenAI-compatible chat endpoint.
type OpenAIDrafter struct {
	client *openai.Client
	model  string
	schema warehouse.Schema
}

// DrafterConfig configures the OpenAI-compatible endpoint.
type DrafterConfig struct {
	APIKey  string `yaml:"api_key" validate:"required"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model" validate:"required"`
}

// NewOpenAIDrafter builds a drafter against the configured endpoint.
func NewOpenAIDrafter(cfg DrafterConfig, schema warehouse.Schema) *OpenAIDrafter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIDrafter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		schema: schema,
	}
}

// draftPayload is the JSON shape the model is instructed to return.
type draftPayload struct {
	Dimension   string            `json:"dimension"`
	Description string            `json:"description"`
	Severity    string            `json:"severity"`
	Predicate   quality.Predicate `json:"predicate"`
}

const draftSystemPrompt = `You design data-quality detection rules.
Respond with a single JSON object:
{"dimension": one of completeness|validity|consistency|accuracy|timeliness,
 "description": short human description,
 "severity": one of low|medium|high|critical,
 "predicate": {"op": ..., ...}}
Predicate ops and their fields:
 is_null{field}, not_matches{field,pattern}, outside_range{field,min,max},
 compare{field,compare,value}, duplicate_key{field},
 orphan_ref{field,ref_table,ref_field}, z_outlier{field,threshold},
 older_than{field,max_age_days}, raw_fragment{fragment}.
Prefer a structured op; use raw_fragment only when nothing else fits.
Reference only the listed columns.`

// Draft implements Drafter.
//
// The model's output is parsed, structurally validated, and checked
// against the table schema before anything is returned. A raw_fragment
// draft additionally passes the sanitizer here; an unsafe draft is
// rejected outright rather than stored for review.
func (d *OpenAIDrafter) Draft(ctx context.Context, req DraftRequest) (quality.Rule, error) {
	table, ok := d.schema.Table(req.Table)
	if !ok {
		return quality.Rule{}, quality.NewError(quality.ErrValidation, req.Table,
			fmt.Errorf("%w: table %q is not in the schema", warehouse.ErrUnknownIdentifier, req.Table))
	}

	user := fmt.Sprintf("Table %q with columns: %s.\nGoal: %s",
		table.Name, strings.Join(table.Columns, ", "), req.Goal)

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       d.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: draftSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return quality.Rule{}, quality.NewError(quality.ErrRemoteUnavailable, req.Table, err)
	}
	if len(resp.Choices) == 0 {
		return quality.Rule{}, quality.NewError(quality.ErrRemoteUnavailable, req.Table,
			fmt.Errorf("empty completion"))
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return quality.Rule{}, quality.NewError(quality.ErrValidation, req.Table,
			fmt.Errorf("model returned unparseable draft: %w", err))
	}
	return d.assemble(table, payload)
}

// assemble validates a parsed draft into a PENDING rule.
func (d *OpenAIDrafter) assemble(table warehouse.TableSchema, payload draftPayload) (quality.Rule, error) {
	dimension, err := quality.ParseDimension(payload.Dimension)
	if err != nil {
		return quality.Rule{}, err
	}
	if err := payload.Predicate.Validate(); err != nil {
		return quality.Rule{}, err
	}
	if payload.Predicate.Field != "" && !table.HasColumn(payload.Predicate.Field) {
		return quality.Rule{}, quality.NewError(quality.ErrValidation, table.Name,
			fmt.Errorf("draft references unknown column %q", payload.Predicate.Field))
	}
	if payload.Predicate.Op == quality.OpRawFragment {
		if _, err := warehouse.SanitizeFragment(payload.Predicate.Fragment, table); err != nil {
			return quality.Rule{}, quality.NewError(quality.ErrUnsafePredicate, table.Name, err)
		}
	}

	severity := quality.Severity(payload.Severity)
	switch severity {
	case quality.SeverityLow, quality.SeverityMedium, quality.SeverityHigh, quality.SeverityCritical:
	default:
		severity = quality.SeverityMedium
	}

	return quality.Rule{
		Table:       table.Name,
		Dimension:   dimension,
		Description: payload.Description,
		Predicate:   payload.Predicate,
		Severity:    severity,
	}, nil
}

// CreateDraft runs the drafter and stores the proposal PENDING under the
// drafter actor.
func (s *Store) CreateDraft(ctx context.Context, drafter Drafter, req DraftRequest) (quality.Rule, error) {
	draft, err := drafter.Draft(ctx, req)
	if err != nil {
		s.audit(quality.ActorDrafter, quality.ActionDraftRule, req.Table, map[string]any{
			"goal": req.Goal,
		}, quality.AuditFailed)
		return quality.Rule{}, err
	}
	rule, err := s.Create(draft, quality.ActorDrafter)
	if err != nil {
		return quality.Rule{}, err
	}
	s.audit(quality.ActorDrafter, quality.ActionDraftRule, rule.ID, map[string]any{
		"goal": req.Goal,
	}, quality.AuditSuccess)
	return rule, nil
}

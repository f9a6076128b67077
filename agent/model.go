package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/deosha/hospital-blockops-prototype/core"
	"github.com/deosha/hospital-blockops-prototype/model"
)

// ModelAgent delegates all three reasoning capabilities to an LLM behind the
// model.Model interface. Responses are expected to contain a JSON object;
// surrounding prose is tolerated and stripped.
type ModelAgent struct {
	BaseAgent
	model model.Model
}

// NewModelAgent constructs an LLM-backed agent with the given identity.
func NewModelAgent(id, role string, m model.Model, optFns ...func(o *Options)) *ModelAgent {
	return &ModelAgent{BaseAgent: newBase(id, role, optFns), model: m}
}

const systemPromptFormat = "You are the %s department agent (id %s) in a hospital " +
	"operations coordination system. Answer with a single JSON object and nothing else."

func (a *ModelAgent) system() string {
	return fmt.Sprintf(systemPromptFormat, a.Role(), a.ID())
}

func (a *ModelAgent) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.model.Complete(ctx, model.Request{System: a.system(), Prompt: prompt})
	if err != nil {
		return "", errors.Wrapf(core.ErrAgentUnavailable, "model completion: %v", err)
	}
	raw := extractJSON(resp.Text)
	if raw == "" || !gjson.Valid(raw) {
		return "", errors.Wrap(core.ErrAgentUnavailable, "model returned no parseable JSON object")
	}
	return raw, nil
}

// ProposeConstraint asks the model to declare the department's limits.
func (a *ModelAgent) ProposeConstraint(ctx context.Context, scenario core.Context) (core.ConstraintRecord, error) {
	prompt := fmt.Sprintf(
		"Scenario facts:\n%s\n\nDeclare your department's constraints for this scenario. "+
			"Respond with {\"type\": \"<category>\", \"constraints\": {<numeric limits>}}.",
		mustJSON(scenario))

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return core.ConstraintRecord{}, err
	}

	record := core.ConstraintRecord{
		Type:   gjson.Get(raw, "type").String(),
		Fields: map[string]any{},
	}
	if fields, ok := gjson.Get(raw, "constraints").Value().(map[string]any); ok {
		record.Fields = fields
	}
	if record.Type == "" {
		return core.ConstraintRecord{}, errors.Wrap(core.ErrAgentUnavailable, "constraint response missing type")
	}
	return record, nil
}

// GenerateProposal asks the model for a concrete purchase plan.
func (a *ModelAgent) GenerateProposal(ctx context.Context, scenario core.Context, constraints map[string]core.ConstraintRecord) (core.Proposal, error) {
	prompt := fmt.Sprintf(
		"Scenario facts:\n%s\n\nDeclared participant constraints:\n%s\n\n"+
			"Produce a purchase proposal satisfying the constraints. Respond with "+
			"{\"item_name\": str, \"proposed_quantity\": int, \"proposed_cost\": number, "+
			"\"price_per_unit\": number, \"reasoning\": str, \"confidence\": number between 0 and 1}.",
		mustJSON(scenario), mustJSON(constraints))

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return core.Proposal{}, err
	}

	proposal := core.Proposal{
		ItemName:         gjson.Get(raw, "item_name").String(),
		ProposedQuantity: int(gjson.Get(raw, "proposed_quantity").Int()),
		ProposedCost:     gjson.Get(raw, "proposed_cost").Float(),
		PricePerUnit:     gjson.Get(raw, "price_per_unit").Float(),
		Reasoning:        gjson.Get(raw, "reasoning").String(),
		Confidence:       gjson.Get(raw, "confidence").Float(),
	}
	if proposal.ProposedQuantity <= 0 || proposal.ProposedCost <= 0 {
		return core.Proposal{}, errors.Wrap(core.ErrAgentUnavailable, "proposal response missing quantity or cost")
	}
	proposal.ConstraintsSatisfied = satisfiedByQuantityAndCost(constraints, proposal.ProposedQuantity, proposal.ProposedCost)
	return proposal, nil
}

// Critique asks the model to evaluate a proposal against the scenario.
func (a *ModelAgent) Critique(ctx context.Context, proposal core.Proposal, scenario core.Context) (core.CritiqueDecision, error) {
	prompt := fmt.Sprintf(
		"Scenario facts:\n%s\n\nProposal under evaluation:\n%s\n\n"+
			"Evaluate the proposal against your department's limits. Respond with "+
			"{\"decision\": \"ACCEPT\" or \"CRITIQUE\", \"reasoning\": str, \"confidence\": number, "+
			"\"suggested_adjustments\": {\"max_quantity\": number, \"max_cost\": number} (only when critiquing)}.",
		mustJSON(scenario), mustJSON(proposal))

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return core.CritiqueDecision{}, err
	}

	decision := core.CritiqueDecision{
		Agent:      a.ID(),
		Verdict:    core.Verdict(strings.ToUpper(gjson.Get(raw, "decision").String())),
		Reasoning:  gjson.Get(raw, "reasoning").String(),
		Confidence: gjson.Get(raw, "confidence").Float(),
	}
	if decision.Verdict != core.VerdictAccept && decision.Verdict != core.VerdictCritique {
		return core.CritiqueDecision{}, errors.Wrapf(core.ErrAgentUnavailable, "unrecognized decision %q", decision.Verdict)
	}
	if adjustments := gjson.Get(raw, "suggested_adjustments"); adjustments.IsObject() {
		decision.SuggestedAdjustments = map[string]float64{}
		adjustments.ForEach(func(key, value gjson.Result) bool {
			decision.SuggestedAdjustments[key.String()] = value.Float()
			return true
		})
	}
	return decision, nil
}

// extractJSON returns the outermost JSON object embedded in the text, or ""
// when no braces are present. Models frequently wrap JSON in prose or code
// fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func mustJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

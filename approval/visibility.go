package approval

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/core"
)

// Visible lists the claims the actor may see, oldest first.
//
//	employee          own claims in any state
//	manager           claims of direct reportees, including rejected ones
//	branch manager    claims submitted by reporting managers, plus own manual entries
//	regional manager  claims submitted by reporting branch managers
//	admin             every claim handed up at least once
//
// Rejected claims are only visible to the employee and their manager.
func (p *Pipeline) Visible(ctx context.Context, actorCode core.ActorCode) ([]RevenueClaim, error) {
	actor, err := p.directory.Resolve(ctx, actorCode)
	if err != nil {
		return nil, err
	}
	visible, err := p.visibility(ctx, actor, false)
	if err != nil {
		return nil, err
	}

	all, err := p.store.ListClaims(ctx, p.prefilter(actor))
	if err != nil {
		return nil, err
	}
	out := make([]RevenueClaim, 0, len(all))
	for _, c := range all {
		if visible(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// prefilter narrows the store query where the role allows it.
func (p *Pipeline) prefilter(actor core.Actor) ClaimFilter {
	switch actor.Role {
	case core.RoleEmployee:
		return ClaimFilter{EmpCode: actor.Code}
	case core.RoleManager:
		return ClaimFilter{ManagerCodes: []core.ActorCode{actor.Code}}
	}
	return ClaimFilter{}
}

// visibility builds the per-claim predicate for actor. withRejected lets
// callers acting on a claim (rejecting it) match it regardless of state.
func (p *Pipeline) visibility(ctx context.Context, actor core.Actor, withRejected bool) (func(RevenueClaim) bool, error) {
	hideRejected := func(c RevenueClaim) bool { return !withRejected && c.State == StateRejected }

	switch actor.Role {
	case core.RoleEmployee:
		return func(c RevenueClaim) bool { return c.EmpCode == actor.Code }, nil

	case core.RoleManager:
		return func(c RevenueClaim) bool {
			return c.ManagerCode == actor.Code || (c.IsManual && c.EnteredBy == actor.Code)
		}, nil

	case core.RoleBranchManager:
		managers, err := p.reporteeSet(ctx, actor.Code, core.RoleManager)
		if err != nil {
			return nil, err
		}
		return func(c RevenueClaim) bool {
			if hideRejected(c) {
				return false
			}
			if c.IsManual && c.EnteredBy == actor.Code {
				return true
			}
			by, ok := c.SubmittedByRole(core.RoleManager)
			return ok && managers[by]
		}, nil

	case core.RoleRegionalManager:
		branches, err := p.reporteeSet(ctx, actor.Code, core.RoleBranchManager)
		if err != nil {
			return nil, err
		}
		return func(c RevenueClaim) bool {
			if hideRejected(c) {
				return false
			}
			by, ok := c.SubmittedByRole(core.RoleBranchManager)
			return ok && branches[by]
		}, nil

	case core.RoleAdmin:
		return func(c RevenueClaim) bool {
			return !hideRejected(c) && c.IsSubmittedToNext()
		}, nil
	}
	return nil, core.Forbidden("%s has no view of revenue claims", actor.Role)
}

func (p *Pipeline) reporteeSet(ctx context.Context, code core.ActorCode, role core.Role) (map[core.ActorCode]bool, error) {
	reportees, err := p.directory.Reportees(ctx, code)
	if err != nil {
		return nil, err
	}
	set := make(map[core.ActorCode]bool, len(reportees))
	for _, r := range reportees {
		if r.Role == role {
			set[r.Code] = true
		}
	}
	return set, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// StateTotal aggregates claims in one state.
type StateTotal struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

type Summary struct {
	Actor   core.ActorCode            `json:"actor"`
	ByState map[ClaimState]StateTotal `json:"by_state"`
	Total   StateTotal                `json:"total"`
}

// Summary totals the claims visible to the actor by state. Rejected claims
// appear in the breakdown but not in Total.
func (p *Pipeline) Summary(ctx context.Context, actorCode core.ActorCode) (Summary, error) {
	claims, err := p.Visible(ctx, actorCode)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Actor: actorCode, ByState: make(map[ClaimState]StateTotal)}
	for _, c := range claims {
		t := s.ByState[c.State]
		t.Count++
		t.Value = t.Value.Add(c.OrderValue)
		s.ByState[c.State] = t
		if c.State != StateRejected {
			s.Total.Count++
			s.Total.Value = s.Total.Value.Add(c.OrderValue)
		}
	}
	return s, nil
}

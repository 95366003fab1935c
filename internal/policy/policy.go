// Package policy decides which actor may do what. The role matrix lives in a
// casbin enforcer; ownership of the target is checked here.
package policy

import (
	"context"
	"fmt"
	"log/slog"

	casbin "github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"mathavam/backend/internal/domain"
)

// ErrForbidden is the same value the services return, so callers only need
// one errors.Is check.
var ErrForbidden = domain.ErrForbidden

type Resource string

const (
	ResourceAppointment  Resource = "appointment"
	ResourceAvailability Resource = "availability"
	ResourceDirectory    Resource = "directory"
)

type Action string

const (
	ActionBook       Action = "book"
	ActionRead       Action = "read"
	ActionList       Action = "list"
	ActionConfirm    Action = "confirm"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"
	ActionDelete     Action = "delete"
	ActionManage     Action = "manage"
)

// scopeAny grants the action on every target, scopeOwn only on targets the
// actor owns.
const (
	scopeAny = "any"
	scopeOwn = "own"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

type rule struct {
	role   domain.Role
	object string
	action Action
}

func obj(r Resource, scope string) string {
	return string(r) + ":" + scope
}

func defaultRules() []rule {
	rules := []rule{
		{domain.RoleAdmin, "*", "*"},

		{domain.RolePractitioner, obj(ResourceAvailability, scopeOwn), ActionManage},
		{domain.RolePractitioner, obj(ResourceAvailability, scopeAny), ActionRead},
		{domain.RolePractitioner, obj(ResourceDirectory, scopeAny), ActionList},

		{domain.RoleParent, obj(ResourceAvailability, scopeAny), ActionRead},
		{domain.RoleParent, obj(ResourceDirectory, scopeAny), ActionList},
	}
	for _, act := range []Action{ActionBook, ActionRead, ActionList, ActionConfirm, ActionComplete, ActionCancel, ActionReschedule} {
		rules = append(rules, rule{domain.RolePractitioner, obj(ResourceAppointment, scopeOwn), act})
	}
	for _, act := range []Action{ActionBook, ActionRead, ActionList, ActionCancel} {
		rules = append(rules, rule{domain.RoleParent, obj(ResourceAppointment, scopeOwn), act})
	}
	return rules
}

// Target identifies whose record an action touches. Zero fields are never
// owned by anyone.
type Target struct {
	PractitionerID string
	PatientID      string
}

// Owns reports whether actor a is the practitioner or a linked guardian of t.
func Owns(a domain.Actor, t Target) bool {
	switch a.Role {
	case domain.RolePractitioner:
		return a.ID != "" && t.PractitionerID == a.ID
	case domain.RoleParent, domain.RolePatient:
		return a.HasPatient(t.PatientID)
	}
	return false
}

type Enforcer struct {
	e   *casbin.Enforcer
	log *slog.Logger
}

// New builds an enforcer loaded with the clinic role matrix.
func New(log *slog.Logger) (*Enforcer, error) {
	if log == nil {
		log = slog.Default()
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("policy model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy enforcer: %w", err)
	}
	for _, r := range defaultRules() {
		if _, err := e.AddPolicy(string(r.role), r.object, string(r.action)); err != nil {
			return nil, fmt.Errorf("add policy %s %s %s: %w", r.role, r.object, r.action, err)
		}
	}
	for _, g := range [][2]domain.Role{
		{domain.RoleSuperAdmin, domain.RoleAdmin},
		{domain.RolePatient, domain.RoleParent},
	} {
		if _, err := e.AddGroupingPolicy(string(g[0]), string(g[1])); err != nil {
			return nil, fmt.Errorf("add role %s -> %s: %w", g[0], g[1], err)
		}
	}
	return &Enforcer{e: e, log: log.With(slog.String("component", "policy"))}, nil
}

// Authorize returns nil when actor may perform act on res. target may be nil
// for actions that are not tied to a record.
func (p *Enforcer) Authorize(ctx context.Context, actor domain.Actor, res Resource, act Action, target *Target) error {
	allowed, err := p.decide(actor, res, act, target)

	attrs := []any{
		"actor_id", actor.ID,
		"role", string(actor.Role),
		"resource", string(res),
		"action", string(act),
		"allowed", allowed,
	}
	switch {
	case err != nil:
		p.log.ErrorContext(ctx, "authz_decision", append(attrs, "error", err.Error())...)
		return err
	case !allowed:
		p.log.WarnContext(ctx, "authz_decision", attrs...)
		return ErrForbidden
	}
	p.log.DebugContext(ctx, "authz_decision", attrs...)
	return nil
}

func (p *Enforcer) decide(actor domain.Actor, res Resource, act Action, target *Target) (bool, error) {
	if _, ok := domain.ParseRole(string(actor.Role)); !ok {
		return false, nil
	}
	ok, err := p.e.Enforce(string(actor.Role), obj(res, scopeAny), string(act))
	if err != nil || ok {
		return ok, err
	}
	if target == nil || !Owns(actor, *target) {
		return false, nil
	}
	return p.e.Enforce(string(actor.Role), obj(res, scopeOwn), string(act))
}

// Allowed reports whether actor holds act on every target of res.
func (p *Enforcer) Allowed(actor domain.Actor, res Resource, act Action) bool {
	ok, err := p.decide(actor, res, act, nil)
	return err == nil && ok
}

package authz

import (
	"strings"

	"ambassador-controlplane/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authz",
	fx.Provide(New),
)

// Resources and actions checked by the settlement services.
const (
	ResourceSubmission   = "submission"
	ResourceOrganization = "organization"
	ResourceCampaign     = "campaign"

	ActionReview     = "review"
	ActionModerate   = "moderate"
	ActionDistribute = "distribute"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "*")
`

const defaultPolicy = `
p, ADMIN, submission, review
p, ADMIN, organization, moderate
p, ADMIN, campaign, distribute
`

// Authorizer answers platform role questions. Organization scoped
// permissions (membership) are checked by the owning service.
type Authorizer interface {
	Allow(role, resource, action string) bool
}

type casbinAuthorizer struct {
	enforcer *casbin.SyncedEnforcer
}

func New(cfg *config.Config) (Authorizer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		e, err := casbin.NewSyncedEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
		if err != nil {
			return nil, err
		}
		zap.L().Info("[Authz] loaded access control from files", zap.String("model", cfg.AccessControl.Model))
		return &casbinAuthorizer{enforcer: e}, nil
	}

	return NewDefault()
}

// NewDefault builds the authorizer from the built-in policy.
func NewDefault() (Authorizer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(strings.TrimSpace(defaultPolicy)))
	if err != nil {
		return nil, err
	}

	return &casbinAuthorizer{enforcer: e}, nil
}

func (a *casbinAuthorizer) Allow(role, resource, action string) bool {
	ok, err := a.enforcer.Enforce(role, resource, action)
	if err != nil {
		zap.L().Error("[Authz] enforce failed", zap.String("role", role), zap.Error(err))
		return false
	}
	return ok
}

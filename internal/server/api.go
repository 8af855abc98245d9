package server

import (
	"context"
	"net/http"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/extraclaims"
	"github.com/StricklySoft/stricklysoft-claims/pkg/pipeline"
)

// api holds the sample business operations. Each reads the caller from
// the principal the authorization stage stored in the context.
type api struct {
	companies *CompanyRepository
}

func newAPI(companies *CompanyRepository) *api {
	if companies == nil {
		companies = NewCompanyRepository(nil)
	}
	return &api{companies: companies}
}

type userInfo struct {
	Subject   string         `json:"subject"`
	Scopes    []string       `json:"scopes"`
	ManagerID string         `json:"managerId,omitempty"`
	Role      string         `json:"role,omitempty"`
	Extra     map[string]any `json:"extra"`
}

func (a *api) userInfoOperation() pipeline.Operation {
	return pipeline.Operation{
		Name: "GetUserInfo",
		Handler: func(ctx context.Context, _ *pipeline.Request) (*pipeline.Response, error) {
			p, err := principal(ctx)
			if err != nil {
				return nil, err
			}
			return pipeline.JSON(http.StatusOK, userInfo{
				Subject:   p.Subject(),
				Scopes:    p.Token().Scopes().List(),
				ManagerID: p.Token().StringClaim("manager_id"),
				Role:      p.Token().StringClaim("role"),
				Extra:     p.Extra().Export(),
			})
		},
	}
}

func (a *api) listCompaniesOperation() pipeline.Operation {
	return pipeline.Operation{
		Name: "GetCompanyList",
		Handler: func(ctx context.Context, _ *pipeline.Request) (*pipeline.Response, error) {
			p, err := principal(ctx)
			if err != nil {
				return nil, err
			}
			return pipeline.JSON(http.StatusOK, a.companies.ForClaims(userClaims(p)))
		},
	}
}

func (a *api) getCompanyOperation() pipeline.Operation {
	return pipeline.Operation{
		Name: "GetCompany",
		Handler: func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
			p, err := principal(ctx)
			if err != nil {
				return nil, err
			}
			company, err := a.companies.Get(req.PathParameter("id"), userClaims(p))
			if err != nil {
				return nil, err
			}
			return pipeline.JSON(http.StatusOK, company)
		},
	}
}

func principal(ctx context.Context) (*auth.ClaimsPrincipal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, sserr.MissingToken()
	}
	return p, nil
}

// userClaims returns the caller's extra claims. Without a claims source
// the caller has no regions and sees no companies.
func userClaims(p *auth.ClaimsPrincipal) extraclaims.UserClaims {
	c, _ := p.Extra().(extraclaims.UserClaims)
	return c
}

package server

import (
	"slices"
	"strconv"

	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/extraclaims"
)

// Company is a sample business resource owned by a region.
type Company struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// SampleCompanies returns the data served by the sample API.
func SampleCompanies() []Company {
	return []Company{
		{ID: 1, Name: "Company 1", Region: "Europe"},
		{ID: 2, Name: "Company 2", Region: "USA"},
		{ID: 3, Name: "Company 3", Region: "Asia"},
		{ID: 4, Name: "Company 4", Region: "USA"},
	}
}

// CompanyRepository is a read-only in-memory company store.
type CompanyRepository struct {
	companies []Company
}

func NewCompanyRepository(companies []Company) *CompanyRepository {
	return &CompanyRepository{companies: slices.Clone(companies)}
}

// ForClaims returns the companies in regions the caller is authorized
// for, ordered by id.
func (r *CompanyRepository) ForClaims(claims extraclaims.UserClaims) []Company {
	out := make([]Company, 0, len(r.companies))
	for _, c := range r.companies {
		if claims.HasRegion(c.Region) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Company) int { return a.ID - b.ID })
	return out
}

// Get returns one company. Companies outside the caller's regions are
// reported as not found so that their existence is not disclosed.
func (r *CompanyRepository) Get(id string, claims extraclaims.UserClaims) (Company, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return Company{}, sserr.Validationf("The company id %q is not a positive integer", id)
	}
	for _, c := range r.companies {
		if c.ID == n && claims.HasRegion(c.Region) {
			return c, nil
		}
	}
	return Company{}, sserr.NotFound("Company " + strconv.Itoa(n) + " was not found for the current user")
}

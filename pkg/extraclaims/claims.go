// Package extraclaims resolves the claims a caller's access token does not
// carry, such as job title and authorized regions, from the user_claims
// table in PostgreSQL.
//
//	provider := extraclaims.NewPostgresProvider(pgClient)
//	filter, err := auth.NewAuthorizationFilter(auth.FilterConfig{
//	    Validator: validator,
//	    Cache:     cache,
//	    Provider:  provider,
//	})
//
// Handlers read the result back from the principal:
//
//	claims, _ := principal.Extra().(extraclaims.UserClaims)
//	if !claims.HasRegion(company.Region) { ... }
package extraclaims

import (
	"fmt"
	"slices"
	"strings"

	"github.com/StricklySoft/stricklysoft-claims/pkg/auth"
)

// Exported field names.
const (
	fieldTitle   = "title"
	fieldRegions = "regions"
)

// UserClaims are the extra claims of one subject.
type UserClaims struct {
	Title   string
	Regions []string
}

var _ auth.ExtraClaims = UserClaims{}

// Export returns {"title": ..., "regions": [...]}. Regions is never null.
func (c UserClaims) Export() map[string]any {
	regions := c.Regions
	if regions == nil {
		regions = []string{}
	}
	return map[string]any{
		fieldTitle:   c.Title,
		fieldRegions: slices.Clone(regions),
	}
}

// HasRegion reports whether region is authorized, ignoring case.
func (c UserClaims) HasRegion(region string) bool {
	return slices.ContainsFunc(c.Regions, func(r string) bool {
		return strings.EqualFold(r, region)
	})
}

// decodeUserClaims is the inverse of Export. It accepts regions as
// []string or as the []any a JSON round trip produces. Absent fields are
// left empty; fields of the wrong type are an error.
func decodeUserClaims(data map[string]any) (UserClaims, error) {
	var c UserClaims
	if v, ok := data[fieldTitle]; ok && v != nil {
		title, ok := v.(string)
		if !ok {
			return UserClaims{}, fmt.Errorf("extraclaims: %s is %T, want string", fieldTitle, v)
		}
		c.Title = title
	}

	switch v := data[fieldRegions].(type) {
	case nil:
	case []string:
		c.Regions = slices.Clone(v)
	case []any:
		c.Regions = make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return UserClaims{}, fmt.Errorf("extraclaims: %s[%d] is %T, want string", fieldRegions, i, e)
			}
			c.Regions = append(c.Regions, s)
		}
	default:
		return UserClaims{}, fmt.Errorf("extraclaims: %s is %T, want list of strings", fieldRegions, v)
	}
	return c, nil
}

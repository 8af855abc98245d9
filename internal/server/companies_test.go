package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-claims/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-claims/pkg/errors"
	"github.com/StricklySoft/stricklysoft-claims/pkg/extraclaims"
)

func TestCompanyRepository_ForClaims(t *testing.T) {
	t.Parallel()
	repo := NewCompanyRepository([]Company{
		{ID: 9, Name: "Late", Region: "USA"},
		{ID: 3, Name: "Early", Region: "usa"},
		{ID: 5, Name: "Elsewhere", Region: "Asia"},
	})

	got := repo.ForClaims(extraclaims.UserClaims{Regions: []string{"USA"}})
	require.Len(t, got, 2)
	assert.Equal(t, []int{3, 9}, []int{got[0].ID, got[1].ID})

	assert.Empty(t, repo.ForClaims(extraclaims.UserClaims{}))
}

func TestCompanyRepository_Get(t *testing.T) {
	t.Parallel()
	repo := NewCompanyRepository(SampleCompanies())
	usa := extraclaims.UserClaims{Regions: []string{"USA"}}

	c, err := repo.Get("2", usa)
	require.NoError(t, err)
	assert.Equal(t, "Company 2", c.Name)

	_, err = repo.Get("3", usa)
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)

	for _, id := range []string{"", "0", "-1", "two"} {
		_, err = repo.Get(id, usa)
		testutil.AssertErrorCode(t, err, sserr.CodeValidation, id)
	}
}

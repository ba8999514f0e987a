package repositories

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msgvis/msgvis/pkg/models"
)

func TestBuildMessageWhere_DatasetOnly(t *testing.T) {
	where, args := buildMessageWhere(models.MessageFilter{DatasetID: 7})

	assert.Equal(t, "m.dataset_id = $1", where)
	assert.Equal(t, []any{int64(7)}, args)
}

func TestBuildMessageWhere_AllFilters(t *testing.T) {
	sender := int64(42)
	where, args := buildMessageWhere(models.MessageFilter{
		DatasetID: 1,
		Query:     "50%_off",
		SenderID:  &sender,
		Hashtag:   "#Election",
		Language:  "en",
	})

	assert.Len(t, args, 5)
	assert.Equal(t, `%50\%\_off%`, args[1])
	assert.Equal(t, int64(42), args[2])
	assert.Equal(t, "Election", args[3], "leading # should be stripped")
	assert.Equal(t, "en", args[4])

	assert.Contains(t, where, "m.text ILIKE $2")
	assert.Contains(t, where, "m.sender_id = $3")
	assert.Contains(t, where, "lower($4)")
	assert.Contains(t, where, "code = $5")
	assert.Equal(t, 4, strings.Count(where, " AND "), "conditions should be AND-joined")
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
	assert.Equal(t, `100\%`, escapeLike(`100%`))
	assert.Equal(t, `snake\_case`, escapeLike(`snake_case`))
	assert.Equal(t, `plain`, escapeLike(`plain`))
}

func TestUniqueIDs(t *testing.T) {
	assert.Nil(t, uniqueIDs(nil))
	assert.Equal(t, []int64{1, 2, 3}, uniqueIDs([]int64{3, 1, 2, 3, 1}))

	in := []int64{5, 4}
	_ = uniqueIDs(in)
	assert.Equal(t, []int64{5, 4}, in, "input must not be reordered")
}

func TestPrefixColumns(t *testing.T) {
	assert.Equal(t, "p.id, p.name", prefixColumns("p", "id, name"))
	assert.Contains(t, prefixColumns("p", personColumns), "p.follower_count")
}

func TestDimensionQueries_CoverEveryDimension(t *testing.T) {
	for _, d := range models.Dimensions {
		query, ok := dimensionQueries[d]
		assert.True(t, ok, "missing query for %s", d)
		assert.Contains(t, query, "$1", "query for %s must be scoped to a dataset", d)
	}
}

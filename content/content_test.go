package content

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cppla/ascend/models"
)

func TestChallengeForIsStable(t *testing.T) {
	a := ChallengeFor(models.PathClarity, "2024-03-05")
	b := ChallengeFor(models.PathClarity, "2024-03-05")
	assert.Equal(t, a, b)
	assert.Equal(t, models.PathClarity, a.Path)
	assert.NotEmpty(t, a.Title)

	next := ChallengeFor(models.PathClarity, "2024-03-06")
	assert.NotEqual(t, a.Ref, next.Ref)

	week := ChallengeFor(models.PathClarity, "2024-03-12")
	assert.Equal(t, a.Ref, week.Ref, "seven templates rotate weekly")
}

func TestChallengeForBeforeEpochAndUnknownPath(t *testing.T) {
	c := ChallengeFor("juggling", "2023-12-30")
	assert.Equal(t, models.PathDiscipline, c.Path)
	assert.NotEmpty(t, c.Ref)
}

func TestRecommend(t *testing.T) {
	assert.Len(t, Recommend(models.PathPurpose, 2), 2)
	all := Recommend(models.PathPurpose, 0)
	assert.Len(t, all, 3)
	for _, b := range all {
		assert.Equal(t, models.PathPurpose, b.Path)
	}
	assert.Empty(t, Recommend("juggling", 3))
}

package globmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFullMatchesWholeString(t *testing.T) {
	re, err := CompileFull("news.*")
	require.NoError(t, err)

	assert.True(t, re.MatchString("news.sports"))
	assert.False(t, re.MatchString("xnews.sports"))
	assert.True(t, re.MatchString("news.sport"))
}

func TestCompileFullQuestionMark(t *testing.T) {
	re, err := CompileFull("k?y")
	require.NoError(t, err)

	assert.True(t, re.MatchString("key"))
	assert.False(t, re.MatchString("ky"))
	assert.False(t, re.MatchString("keey"))
}

func TestCompileFullEscapedWildcardIsLiteral(t *testing.T) {
	re, err := CompileFull(`a\*b`)
	require.NoError(t, err)

	assert.True(t, re.MatchString("a*b"))
	assert.False(t, re.MatchString("axb"))
}

func TestCompileFullCharacterClassPassesThrough(t *testing.T) {
	re, err := CompileFull("k[ae]y")
	require.NoError(t, err)

	assert.True(t, re.MatchString("kay"))
	assert.True(t, re.MatchString("key"))
	assert.False(t, re.MatchString("kiy"))
}

func TestCompileSearchIsNotAnchored(t *testing.T) {
	re, err := CompileSearch("news")
	require.NoError(t, err)

	assert.True(t, re.MatchString("breaking.news.today"))
}

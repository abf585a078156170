package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeText(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"price"}, TokenizeText("Price?"))
	assert.Equal([]string{"how", "much", "is", "this"}, TokenizeText("How much is this??"))
	assert.Equal([]string{"cafe"}, TokenizeText("Café"))
	assert.Empty(TokenizeText("!!! ..."))
}

func TestMatchesAnySubstring(t *testing.T) {
	assert := assert.New(t)

	assert.True(MatchesAny("What's the PRICE?", []string{"price"}, false))
	assert.True(MatchesAny("pricing info please", []string{"price"}, false))
	assert.False(MatchesAny("how much", []string{"price"}, false))
	assert.False(MatchesAny("", []string{"price"}, false))
	assert.False(MatchesAny("price", nil, false))
}

func TestMatchesAnyWholeWord(t *testing.T) {
	assert := assert.New(t)

	assert.True(MatchesAny("what is the price today", []string{"price"}, true))
	// whole-word mode must not match inside a longer token
	assert.False(MatchesAny("pricing info", []string{"price"}, true))
	assert.True(MatchesAny("Price!", []string{"PRICE"}, true))
}

func TestMatchesAnyPhrase(t *testing.T) {
	assert := assert.New(t)

	// phrases match on normalized substring regardless of wholeWord
	assert.True(MatchesAny("hey, how much is it?", []string{"how much"}, true))
	assert.True(MatchesAny("HOW MUCH???", []string{"how much"}, false))
	assert.False(MatchesAny("how many", []string{"how much"}, false))
}

package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayNameAndInitial(t *testing.T) {
	cases := []struct {
		name    string
		u       User
		display string
		initial string
	}{
		{"username wins", User{Username: "alice", FullName: "Alice Doe"}, "alice", "A"},
		{"full name fallback", User{FullName: "bob builder"}, "bob builder", "B"},
		{"nothing set", User{}, "U", "U"},
		{"non-ascii", User{Username: "émile"}, "émile", "É"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.display, DisplayName(tc.u))
			assert.Equal(t, tc.initial, Initial(tc.u))
		})
	}
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierCelebrity, ParseTier("celebrity"))
	assert.Equal(t, TierMonthly, ParseTier(" Monthly "))
	assert.Equal(t, TierNone, ParseTier(""))
	assert.Equal(t, TierNone, ParseTier("gold"))

	assert.True(t, TierLifetime.Verified())
	assert.False(t, TierNone.Verified())
	assert.False(t, Tier("").Verified())
}

func TestBadgeFor(t *testing.T) {
	b, ok := BadgeFor(TierCelebrity)
	assert.True(t, ok)
	assert.Equal(t, "crown", b.Icon)
	assert.Equal(t, "text-yellow-400", b.Color)

	_, ok = BadgeFor(TierNone)
	assert.False(t, ok)

	for _, tier := range []Tier{TierMonthly, TierLifetime, TierCelebrity} {
		_, ok := BadgeFor(tier)
		assert.True(t, ok, tier)
	}
}

func TestPresenceAndStatusLine(t *testing.T) {
	online := User{IsOnline: true}
	assert.Equal(t, "Online", PresenceLabel(online))
	assert.Equal(t, "Last seen recently", PresenceLabel(User{}))

	assert.Equal(t, "Online", StatusLine(online))
	assert.Equal(t, "on holiday", StatusLine(User{Bio: "on holiday"}))
}

func TestMatches(t *testing.T) {
	u := User{Username: "Alice", FullName: "Alice Wonder"}
	assert.True(t, Matches(u, ""))
	assert.True(t, Matches(u, "ali"))
	assert.True(t, Matches(u, "WONDER"))
	assert.False(t, Matches(u, "bob"))
}

package user

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Tier is the verification badge a user carries.
type Tier string

const (
	TierNone      Tier = "none"
	TierMonthly   Tier = "monthly"
	TierLifetime  Tier = "lifetime"
	TierCelebrity Tier = "celebrity"
)

// ParseTier maps unknown or empty values to TierNone.
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierMonthly, TierLifetime, TierCelebrity:
		return t
	default:
		return TierNone
	}
}

func (t Tier) Verified() bool { return ParseTier(string(t)) != TierNone }

// Badge is the presentation data attached to a verification tier.
type Badge struct {
	Icon  string
	Color string
	Label string
	Price string
}

var badges = map[Tier]Badge{
	TierCelebrity: {Icon: "crown", Color: "text-yellow-400", Label: "Celebrity", Price: "Free (Admin approval required)"},
	TierLifetime:  {Icon: "star", Color: "text-purple-400", Label: "Lifetime", Price: "₦5,000 - ₦20,000"},
	TierMonthly:   {Icon: "zap", Color: "text-blue-400", Label: "Monthly", Price: "₦1,000 - ₦5,000/month"},
}

// BadgeFor returns false for TierNone.
func BadgeFor(t Tier) (Badge, bool) {
	b, ok := badges[ParseTier(string(t))]
	return b, ok
}

type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	FullName         string    `json:"full_name"`
	Bio              string    `json:"bio"`
	AvatarURL        string    `json:"avatar_url"`
	IsOnline         bool      `json:"is_online"`
	VerificationTier Tier      `json:"verification_type"`
	Password         string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProfileUpdate carries the fields a user may edit on themselves. Nil means unchanged.
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Username    string `json:"username"`
}

const fallbackInitial = "U"

// DisplayName resolves username, then full name, then "U".
func DisplayName(u User) string {
	switch {
	case u.Username != "":
		return u.Username
	case u.FullName != "":
		return u.FullName
	default:
		return fallbackInitial
	}
}

// Initial is the upper-cased first letter of DisplayName, used for avatar fallbacks.
func Initial(u User) string {
	for _, s := range []string{u.Username, u.FullName} {
		if r, _ := utf8.DecodeRuneInString(s); r != utf8.RuneError {
			return string(unicode.ToUpper(r))
		}
	}
	return fallbackInitial
}

func PresenceLabel(u User) string {
	if u.IsOnline {
		return "Online"
	}
	return "Last seen recently"
}

// StatusLine is the subtitle shown in user lists: the bio when set, presence otherwise.
func StatusLine(u User) string {
	if u.Bio != "" {
		return u.Bio
	}
	return PresenceLabel(u)
}

// Matches does a case-insensitive substring match on username or full name.
// An empty term matches everyone.
func Matches(u User, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(u.Username), term) ||
		strings.Contains(strings.ToLower(u.FullName), term)
}

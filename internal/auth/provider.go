package auth

import (
	"fmt"
	"strings"
)

// Provider identifies an external identity provider whose subject ID may be
// linked to a local user. The set is closed: each provider maps to a fixed
// column on the users table, so linkage never goes through dynamic field
// lookup.
type Provider int

const (
	ProviderGoogle Provider = iota
	ProviderMicrosoft
	ProviderDiscord
)

var providerNames = map[Provider]string{
	ProviderGoogle:    "google",
	ProviderMicrosoft: "microsoft",
	ProviderDiscord:   "discord",
}

// ParseProvider resolves a provider by name.
func ParseProvider(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, n := range providerNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown provider %q", ErrInvalidInput, name)
}

func (p Provider) String() string {
	if n, ok := providerNames[p]; ok {
		return n
	}
	return "unknown"
}

// SubjectID returns the provider-specific subject stored on the user.
func (p Provider) SubjectID(u *User) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderMicrosoft:
		return u.MicrosoftID
	case ProviderDiscord:
		return u.DiscordID
	default:
		return ""
	}
}

// SetSubjectID stores the provider-specific subject on the user.
func (p Provider) SetSubjectID(u *User, id string) {
	switch p {
	case ProviderGoogle:
		u.GoogleID = id
	case ProviderMicrosoft:
		u.MicrosoftID = id
	case ProviderDiscord:
		u.DiscordID = id
	}
}

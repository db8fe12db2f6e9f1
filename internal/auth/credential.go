// ABOUTME: Classifies raw request credentials into exactly one Credential variant
// ABOUTME: API key wins over account id; no material at all is anonymous

package auth

import "strings"

// Header names. gRPC metadata keys are the same, lowercased.
const (
	HeaderAPIKey        = "x-api-key"
	HeaderAccountID     = "nettu-account"
	HeaderAuthorization = "authorization"
)

// CredentialMaterial is the untyped credential input of one request.
type CredentialMaterial struct {
	APIKey      string
	AccountID   string
	BearerToken string
}

// CredentialKind tags a Credential.
type CredentialKind int

const (
	CredentialAnonymous CredentialKind = iota
	CredentialAccount
	CredentialUser
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialAccount:
		return "account"
	case CredentialUser:
		return "user"
	default:
		return "anonymous"
	}
}

// Credential is a closed union over the three credential kinds.
// Only the fields belonging to Kind are set.
type Credential struct {
	Kind CredentialKind

	// CredentialAccount
	APIKey string

	// CredentialUser; Token may be empty
	AccountID string
	Token     string
}

// Resolve classifies m. It never fails: any combination maps to some
// credential and the pipeline decides whether that is acceptable.
func Resolve(m CredentialMaterial) Credential {
	switch {
	case m.APIKey != "":
		return Credential{Kind: CredentialAccount, APIKey: m.APIKey}
	case m.AccountID != "":
		return Credential{Kind: CredentialUser, AccountID: m.AccountID, Token: m.BearerToken}
	default:
		return Credential{Kind: CredentialAnonymous}
	}
}

// bearerToken extracts the token from an Authorization header value.
// A value without the Bearer scheme is returned whole so that it fails
// verification instead of silently downgrading to an anonymous request.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// Package scope resolves a channel identity into the session key and scope
// key used throughout the dispatcher. It is a pure function with no I/O:
// the same identity and policy always produce the same pair, so a flush
// written under identity I and recalled under the same identity see the
// same key.
//
// Adapted from the teacher's internal/sessions/key.go session-key builder,
// generalized to the policy-driven scope/session split this spec requires
// instead of the teacher's fixed per-channel-topic key shapes.
package scope

import "fmt"

// DMScopePolicy names the configured memory/session isolation policy for
// direct-message conversations. Group conversations always use the full key.
type DMScopePolicy string

const (
	PolicyMain          DMScopePolicy = "main"
	PolicyPerChannelPeer DMScopePolicy = "per-channel-peer"
	PolicyPerPeer        DMScopePolicy = "per-peer"
)

// Identity is the channel-supplied identity of a conversation. ChannelID is
// non-empty for group conversations; PeerID identifies the individual sender.
type Identity struct {
	SessionID   string
	ChannelType string
	ChannelID   string
	PeerID      string
	AccountID   string
}

// Resolved carries the two keys derived from an Identity under a policy.
type Resolved struct {
	SessionKey string
	ScopeKey   string
}

// UnknownPolicyError is raised when Resolve is called with a policy name it
// does not recognize. Policies fail loudly rather than silently defaulting,
// since a wrong scope key silently cross-contaminates memory between peers.
type UnknownPolicyError struct {
	Policy DMScopePolicy
}

func (e *UnknownPolicyError) Error() string {
	return fmt.Sprintf("scope: unknown dm-scope policy %q", e.Policy)
}

// MissingPeerIDError is raised when a per-peer policy is used without a
// peer id. This is always a programmer error at the call site, not a
// runtime condition a caller should recover from.
type MissingPeerIDError struct {
	Policy DMScopePolicy
}

func (e *MissingPeerIDError) Error() string {
	return fmt.Sprintf("scope: policy %q requires a peer id", e.Policy)
}

// Resolve computes the scope key and session key for an identity under a
// DM-scope policy.
//
//	session_key = group:{channel_id}          if ChannelID is non-empty
//	            = scope_key                    otherwise
//
//	scope_key   = main                                     under PolicyMain
//	            = {channel_type}:peer:{peer_id}             under PolicyPerChannelPeer
//	            = peer:{peer_id}                            under PolicyPerPeer
//
// Group conversations (ChannelID non-empty) share one group:{channel_id}
// session_key; their scope_key still follows the policy, as for a DM.
func Resolve(id Identity, policy DMScopePolicy) (Resolved, error) {
	scopeKey, err := resolveScopeKey(id, policy)
	if err != nil {
		return Resolved{}, err
	}

	sessionKey := scopeKey
	if id.ChannelID != "" {
		sessionKey = fmt.Sprintf("group:%s", id.ChannelID)
	}

	return Resolved{SessionKey: sessionKey, ScopeKey: scopeKey}, nil
}

func resolveScopeKey(id Identity, policy DMScopePolicy) (string, error) {
	switch policy {
	case PolicyMain:
		return "main", nil
	case PolicyPerChannelPeer:
		if id.PeerID == "" {
			return "", &MissingPeerIDError{Policy: policy}
		}
		return fmt.Sprintf("%s:peer:%s", id.ChannelType, id.PeerID), nil
	case PolicyPerPeer:
		if id.PeerID == "" {
			return "", &MissingPeerIDError{Policy: policy}
		}
		return fmt.Sprintf("peer:%s", id.PeerID), nil
	default:
		return "", &UnknownPolicyError{Policy: policy}
	}
}

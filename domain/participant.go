// Package domain contains core concepts of the direct messaging system.
// This file defines the normalized participant pair of a conversation.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"dm-lab/errors"
	"strings"
)

// Participants is the unordered pair of users of a one-to-one conversation.
// It is always stored sorted so {A,B} and {B,A} share one value.
type Participants [2]string

// NewParticipants normalizes the pair and rejects empty or identical ids.
func NewParticipants(a, b string) (Participants, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return Participants{}, errors.ErrInvalidUserID
	}
	if a == b {
		return Participants{}, errors.ErrSelfConversation
	}
	if b < a {
		a, b = b, a
	}
	return Participants{a, b}, nil
}

// Key is the canonical identity of the pair, used as the uniqueness constraint.
func (p Participants) Key() string {
	return p[0] + ":" + p[1]
}

func (p Participants) Contains(userID string) bool {
	return p[0] == userID || p[1] == userID
}

// Other returns the participant that is not userID.
// ok is false when userID is not part of the pair.
func (p Participants) Other(userID string) (string, bool) {
	switch userID {
	case p[0]:
		return p[1], true
	case p[1]:
		return p[0], true
	default:
		return "", false
	}
}

func (p Participants) Slice() []string {
	return []string{p[0], p[1]}
}

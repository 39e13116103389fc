package models

import "fmt"

// MemberRole is the role a client holds inside a room.
type MemberRole string

const (
	RoleCoordinator MemberRole = "coordinator"
	RoleContributor MemberRole = "contributor"
	RoleReviewer    MemberRole = "reviewer"
	RoleObserver    MemberRole = "observer"
)

// ParseMemberRole maps a wire string onto a MemberRole. Unknown variants
// are an explicit validation error, never a runtime panic.
func ParseMemberRole(s string) (MemberRole, error) {
	switch MemberRole(s) {
	case RoleCoordinator, RoleContributor, RoleReviewer, RoleObserver:
		return MemberRole(s), nil
	case "":
		return RoleContributor, nil
	}
	return "", fmt.Errorf("%w: unknown member role %q", ErrValidation, s)
}

// VoteType selects the tally rule applied to a decision.
type VoteType string

const (
	VoteSimpleMajority VoteType = "simple_majority"
	VoteConsensus      VoteType = "consensus"
	VoteQuorum         VoteType = "quorum"
	VoteWeighted       VoteType = "weighted"
)

// ParseVoteType maps a wire string onto a VoteType; empty selects
// simple_majority.
func ParseVoteType(s string) (VoteType, error) {
	switch VoteType(s) {
	case VoteSimpleMajority, VoteConsensus, VoteQuorum, VoteWeighted:
		return VoteType(s), nil
	case "":
		return VoteSimpleMajority, nil
	}
	return "", fmt.Errorf("%w: unknown vote type %q", ErrValidation, s)
}

// Severity grades a critique.
type Severity string

const (
	SeverityBlocking   Severity = "blocking"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// ParseSeverity maps a wire string onto a Severity; empty selects minor.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityBlocking, SeverityMajor, SeverityMinor, SeveritySuggestion:
		return Severity(s), nil
	case "":
		return SeverityMinor, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrValidation, s)
}

// Position is the side a debate argument takes.
type Position string

const (
	PositionPro Position = "pro"
	PositionCon Position = "con"
)

// ParsePosition maps a wire string onto a Position.
func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case PositionPro, PositionCon:
		return Position(s), nil
	}
	return "", fmt.Errorf("%w: unknown position %q", ErrValidation, s)
}

// AckState is a PendingAck's place in the delivery state machine.
type AckState string

const (
	AckPending      AckState = "pending"
	AckSent         AckState = "sent"
	AckDelivered    AckState = "delivered"
	AckAcknowledged AckState = "acknowledged"
	AckFailed       AckState = "failed"
	AckTimeout      AckState = "timeout"
)

// Terminal reports whether the state permits no further transition.
func (s AckState) Terminal() bool {
	return s == AckAcknowledged || s == AckFailed || s == AckTimeout
}

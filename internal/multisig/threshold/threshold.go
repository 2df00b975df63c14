// Package threshold decides whether a K-of-N group operation is satisfied.
// It is pure: callers de-duplicate acceptances by member id before counting.
package threshold

import (
	"fmt"
	"strconv"
	"strings"

	"veridian/internal/multisig/models"
	"veridian/pkg/domain"
)

// Reached reports whether joinedCount satisfies threshold. Configuration
// errors are caught by Validate, never clamped here.
func Reached(threshold, joinedCount int) bool {
	return joinedCount >= threshold
}

// Validate rejects thresholds that can never be, or can trivially be,
// satisfied by the member set.
func Validate(threshold, totalMembers int) error {
	if threshold <= 0 {
		return fmt.Errorf("%w: must be positive, got %d", models.ErrInvalidThreshold, threshold)
	}
	if threshold > totalMembers {
		return fmt.Errorf("%w: %d of %d", models.ErrThresholdExceedsMembers, threshold, totalMembers)
	}
	return nil
}

// Parse normalizes a string-encoded count threshold from the agent. Weighted
// (fractional) thresholds are not counts and are refused.
func Parse(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", models.ErrInvalidThreshold)
	}
	if strings.ContainsAny(s, "/[,") {
		return 0, fmt.Errorf("%w: weighted threshold %q is not a count", models.ErrInvalidThreshold, raw)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidThreshold, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %d", models.ErrInvalidThreshold, n)
	}
	return n, nil
}

// JoinedCount counts members whose joined flag is set, once per member id,
// so an echoed local acceptance and the local action itself count once.
func JoinedCount(members []*models.MemberInfo) int {
	seen := make(map[domain.AID]struct{}, len(members))
	for _, m := range members {
		if m.Joined {
			seen[m.MemberID] = struct{}{}
		}
	}
	return len(seen)
}

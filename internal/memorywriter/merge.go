package memorywriter

import (
	"strings"
	"time"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// Merge folds extracted profile updates into an existing profile and
// returns the result without mutating either input.
//
// Rules:
//   - list fields merge as a deduplicated union (case-insensitive, first
//     casing wins), so repeated extractions never lose information
//   - personal_preferences are replaced by newer values when present (how
//     the user wants to be addressed is a current fact, not an accumulation)
//   - a new dislike evicts overlapping interests; the newer signal wins the
//     contradiction
//   - last_updated only moves forward
func Merge(existing domain.UserProfile, updates domain.ProfileUpdates) domain.UserProfile {
	merged := domain.UserProfile{
		UserID:               existing.UserID,
		OutputPreferences:    union(existing.OutputPreferences, updates.OutputPreferences),
		AssistantPreferences: union(existing.AssistantPreferences, updates.AssistantPreferences),
		Knowledge:            union(existing.Knowledge, updates.Knowledge),
		Interests:            union(existing.Interests, updates.Interests),
		Dislikes:             union(existing.Dislikes, updates.Dislikes),
		FamilyAndFriends:     union(existing.FamilyAndFriends, updates.FamilyAndFriends),
		WorkProfile:          union(existing.WorkProfile, updates.WorkProfile),
		Goals:                union(existing.Goals, updates.Goals),
	}

	if len(updates.PersonalPreferences) > 0 {
		merged.PersonalPreferences = union(nil, updates.PersonalPreferences)
	} else {
		merged.PersonalPreferences = union(existing.PersonalPreferences, nil)
	}

	merged.Interests = evictConflicts(merged.Interests, updates.Dislikes)

	merged.LastUpdated = time.Now().UTC()
	if existing.LastUpdated.After(merged.LastUpdated) {
		merged.LastUpdated = existing.LastUpdated
	}

	return merged
}

// union concatenates both lists, dropping duplicates case-insensitively.
func union(existing, updates []string) []string {
	out := make([]string, 0, len(existing)+len(updates))
	seen := make(map[string]struct{}, len(existing)+len(updates))
	for _, list := range [][]string{existing, updates} {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

// evictConflicts drops interests that overlap any newly stated dislike.
func evictConflicts(interests, newDislikes []string) []string {
	if len(newDislikes) == 0 {
		return interests
	}
	out := interests[:0:0]
	for _, interest := range interests {
		conflicted := false
		for _, dislike := range newDislikes {
			if overlaps(interest, dislike) {
				conflicted = true
				break
			}
		}
		if !conflicted {
			out = append(out, interest)
		}
	}
	return out
}

// overlaps reports case-insensitive containment in either direction.
func overlaps(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

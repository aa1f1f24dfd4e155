package services

import (
	"sort"
	"time"

	"github.com/relaydesk/backend/internal/models"
)

// Rank orders requests for the agent-facing queue: urgent before high before
// normal before low, ties broken by earliest created_at, then id so the
// order is total. The input slice is not modified.
func Rank(requests []*models.HandoffRequest) []*models.HandoffRequest {
	out := make([]*models.HandoffRequest, len(requests))
	copy(out, requests)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := models.PriorityRank(out[i].Priority), models.PriorityRank(out[j].Priority)
		if ri != rj {
			return ri > rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// IsStale reports whether a queued request has waited longer than the
// threshold. Classification only: escalation (sound, priority bump) belongs
// to the consuming UI.
func IsStale(req *models.HandoffRequest, threshold time.Duration, now time.Time) bool {
	if req.Status != models.RequestStatusQueued {
		return false
	}
	return now.Sub(req.CreatedAt) > threshold
}

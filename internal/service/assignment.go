package service

import (
	"sort"

	"github.com/marketplace_support/backend/internal/models"
	"github.com/marketplace_support/backend/internal/utils"
)

// PickAgent chooses the agent for a session among online agents: the two
// least loaded are candidates and the session id hash picks between them,
// so retries for the same session land on the same agent.
func PickAgent(sessionID string, agents []models.Agent) (models.Agent, []models.Agent, bool) {
	online := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if a.IsOnline {
			online = append(online, a)
		}
	}
	if len(online) == 0 {
		return models.Agent{}, nil, false
	}

	sort.Slice(online, func(i, j int) bool {
		if online[i].CurrentLoad == online[j].CurrentLoad {
			return online[i].ID < online[j].ID
		}
		return online[i].CurrentLoad < online[j].CurrentLoad
	})

	top := online
	if len(top) > 2 {
		top = online[:2]
	}
	return top[utils.PickIndex(sessionID, len(top))], top, true
}

package kernel

import (
	"log/slog"

	"github.com/nextlevelbuilder/crewd/internal/bus"
)

// Recover rebuilds the actor table by replaying the structural events from
// the journal: every spawn_agent system call re-runs through the normal
// spawn path. Reasoning history is not replayed.
func (k *Kernel) Recover() int {
	events := k.log.All()
	if len(events) == 0 {
		slog.Info("recovery: empty journal, starting fresh")
		return 0
	}

	respawned := 0
	for _, msg := range events {
		if msg.Type != bus.TypeSystemCall || msg.Command != "spawn_agent" {
			continue
		}
		name, _ := msg.Args["name"].(string)
		if name == "" {
			continue
		}
		if _, exists := k.Agent(name); exists {
			continue
		}
		prompt, _ := msg.Args["system_prompt"].(string)
		temp := 0.7
		if t, ok := msg.Args["temperature"].(float64); ok {
			temp = t
		}
		if err := k.SpawnAgent(name, prompt, temp); err != nil {
			slog.Warn("recovery: respawn failed", "agent", name, "error", err)
			continue
		}
		respawned++
	}
	slog.Info("recovery complete", "respawned", respawned, "events", len(events))
	return respawned
}

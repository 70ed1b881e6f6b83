package kernel

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/crewd/internal/bus"
)

const (
	toolHistoryWindow = 10
	loopRunLength     = 3
)

// handleToolUse watches per-actor tool-call signatures. Three identical
// calls in a row trigger an interrupt and reset the actor's history.
func (k *Kernel) handleToolUse(msg bus.Message) {
	if msg.From == "" || msg.Tool == "" {
		return
	}
	sig := toolSignature(msg.Tool, msg.Args)

	k.mu.Lock()
	history := append(k.toolHistory[msg.From], sig)
	if len(history) > toolHistoryWindow {
		history = history[len(history)-toolHistoryWindow:]
	}
	looping := len(history) >= loopRunLength
	for i := 1; looping && i < loopRunLength; i++ {
		looping = history[len(history)-1-i] == history[len(history)-1]
	}
	if looping {
		history = nil
	}
	k.toolHistory[msg.From] = history
	k.mu.Unlock()

	if looping {
		slog.Warn("loop detected", "actor", msg.From, "tool", msg.Tool)
		reason := fmt.Sprintf("Loop Detected: You are repeating %s with same arguments. Stop.", msg.Tool)
		if err := k.InterruptAgent(msg.From, reason); err != nil {
			slog.Warn("loop interrupt failed", "actor", msg.From, "error", err)
		}
	}
}

// toolSignature canonicalizes a call for comparison. encoding/json sorts
// map keys, so equal argument maps produce equal signatures.
func toolSignature(tool string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte("{}")
	}
	return tool + "|" + string(data)
}

// Scripted extension interpreted at runtime, stdlib imports only.
// Edit this file and run `lifelog extensions reload mood` to pick up
// changes without a restart.
package extension

import (
	"fmt"
	"strings"
)

var (
	queryFn func(sql, userID string) ([]map[string]any, error)
	askFn   func(prompt string) (string, error)

	// In-memory only: mood entries live as conversation state, not as
	// a dedicated record table.
	moods = map[string][]string{}
)

func Describe() map[string]string {
	return map[string]string{
		"display_name": "Mood",
		"description": "Mood journaling. Handles noting how the user feels today " +
			"and recalling recently noted moods.",
		"version": "1.0.0",
	}
}

func Init(query func(sql, userID string) ([]map[string]any, error), ask func(prompt string) (string, error)) error {
	queryFn = query
	askFn = ask

	return nil
}

func Execute(userID, text string, state map[string]any, params map[string]any) (map[string]any, error) {
	action, _ := params["action"].(string)

	if action == "query" {
		recent := moods[userID]
		if len(recent) == 0 {
			return map[string]any{
				"success": true,
				"message": "no moods noted yet",
			}, nil
		}

		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("recent moods: %s", strings.Join(recent, ", ")),
		}, nil
	}

	mood, _ := params["mood"].(string)
	if mood == "" {
		mood = text
	}

	moods[userID] = append(moods[userID], mood)
	if len(moods[userID]) > 10 {
		moods[userID] = moods[userID][len(moods[userID])-10:]
	}

	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("✓ noted mood: %s", mood),
	}, nil
}

func Shutdown() error {
	moods = map[string][]string{}

	return nil
}

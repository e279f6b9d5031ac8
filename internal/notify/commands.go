package notify

import (
	"errors"
	"fmt"
	"sort"
)

// Command names.
const (
	CommandCheckFluid       = "check_fluid"
	CommandTakeMeasurements = "take_measurements"
	CommandHarvestPlant     = "harvest_plant"
)

// ErrUnknownCommand is returned for names outside the active command set.
var ErrUnknownCommand = errors.New("notify: unknown command")

// Command describes one schedulable reminder.
type Command struct {
	Name    string `yaml:"name" json:"name"`
	Message string `yaml:"message" json:"message"`

	// RepeatHours is the default interval; 0 fires once.
	RepeatHours int `yaml:"repeat_hours" json:"repeat_hours"`

	// InitialRepeatHours, when positive, is the interval used for the
	// first firing after a recipe starts. After that first firing the
	// entry falls back to RepeatHours.
	InitialRepeatHours int `yaml:"initial_repeat_hours,omitempty" json:"initial_repeat_hours,omitempty"`
}

// DefaultCommands returns the built-in command set.
func DefaultCommands() []Command {
	return []Command{
		{Name: CommandCheckFluid, Message: "Check your fluid level", RepeatHours: 48},
		{Name: CommandHarvestPlant, Message: "Time to harvest your plant", RepeatHours: 0},
		{Name: CommandTakeMeasurements, Message: "Record your plant measurements", RepeatHours: 24, InitialRepeatHours: 24 * 7},
	}
}

// validateCommands checks a replacement command set.
func validateCommands(cmds []Command) (map[string]Command, error) {
	if len(cmds) == 0 {
		return nil, errors.New("command set is empty")
	}
	set := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		if c.Name == "" {
			return nil, errors.New("command with empty name")
		}
		if c.RepeatHours < 0 || c.InitialRepeatHours < 0 {
			return nil, fmt.Errorf("command %s: negative repeat", c.Name)
		}
		if _, dup := set[c.Name]; dup {
			return nil, fmt.Errorf("command %s: duplicate", c.Name)
		}
		set[c.Name] = c
	}
	return set, nil
}

// sortedCommands returns the set ordered by name.
func sortedCommands(set map[string]Command) []Command {
	out := make([]Command, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

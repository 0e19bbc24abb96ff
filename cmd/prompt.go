package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

// errPromptAborted is returned when the user leaves a prompt with Ctrl-C.
var errPromptAborted = errors.New("prompt aborted")

// runWithHelp runs fields in a single-group form with key hints shown.
func runWithHelp(fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errPromptAborted
	}
	return err
}

// promptString asks for one line of text. An empty answer returns
// defaultVal; validate, when set, must accept the answer.
func promptString(title, description, defaultVal string, validate func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}
	if validate != nil {
		inp = inp.Validate(func(s string) error {
			if s == "" && defaultVal != "" {
				return nil
			}
			return validate(s)
		})
	}

	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptSecret reads a value without echoing it.
func promptSecret(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if s == "" {
				return fmt.Errorf("%s is required", title)
			}
			return nil
		}).
		Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptSelect shows a single-select list and returns the chosen value.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	huhOpts := make([]huh.Option[T], len(options))
	for i, opt := range options {
		huhOpts[i] = huh.NewOption(opt.Label, opt.Value).Selected(i == defaultIdx)
	}

	sel := huh.NewSelect[T]().
		Title(title).
		Options(huhOpts...).
		Value(&value)
	if err := runWithHelp(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}

// SelectOption is one entry of a promptSelect list.
type SelectOption[T any] struct {
	Label string
	Value T
}

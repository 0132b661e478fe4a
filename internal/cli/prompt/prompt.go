// Package prompt provides interactive terminal prompts for CLI commands.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

var (
	// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
	ErrAborted = errors.New("aborted")

	// ErrPasswordMismatch indicates the confirmation differs from the password.
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// IsAborted reports whether err means the user cancelled the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question. Anything but "y" or "yes" declines.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	result, err := p.Run()
	if errors.Is(err, promptui.ErrAbort) {
		// promptui reports a "n" answer as ErrAbort.
		return false, nil
	}
	if err != nil {
		return false, wrapError(err)
	}

	answer := strings.ToLower(strings.TrimSpace(result))
	return answer == "y" || answer == "yes", nil
}

// ConfirmWithForce returns true without prompting when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label)
}

// Password prompts for a masked secret that must not be empty.
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if input == "" {
				return fmt.Errorf("%s must not be empty", strings.ToLower(label))
			}
			return nil
		},
	}

	result, err := p.Run()
	return result, wrapError(err)
}

// PasswordWithConfirmation prompts for a password twice.
func PasswordWithConfirmation(label, confirmLabel string) (string, error) {
	password, err := Password(label)
	if err != nil {
		return "", err
	}

	confirm, err := Password(confirmLabel)
	if err != nil {
		return "", err
	}

	if password != confirm {
		return "", ErrPasswordMismatch
	}
	return password, nil
}

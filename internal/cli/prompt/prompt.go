// Package prompt asks the operator to confirm destructive CLI actions.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the operator presses Ctrl+C.
var ErrAborted = errors.New("aborted")

// stdin and stdout override the terminal in tests.
var (
	stdin  io.ReadCloser
	stdout io.WriteCloser
)

func run(p promptui.Prompt) (string, error) {
	p.Stdin = stdin
	p.Stdout = stdout
	return p.Run()
}

// Confirm asks a yes/no question. An empty answer picks defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	result, err := run(promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, hint),
		IsConfirm: true,
	})
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports anything but "y" as an abort
		if strings.TrimSpace(result) == "" {
			return defaultYes, nil
		}
		return false, nil
	case err != nil:
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(result))
	return answer == "y" || answer == "yes", nil
}

// ConfirmDanger requires the operator to type word before a destructive
// action, such as overwriting tablespace pages from a backup.
func ConfirmDanger(label, word string) (bool, error) {
	result, err := run(promptui.Prompt{
		Label: fmt.Sprintf("%s (type '%s' to confirm)", label, word),
		Validate: func(input string) error {
			if input != word {
				return fmt.Errorf("type '%s' to confirm", word)
			}
			return nil
		},
	})
	switch {
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	return result == word, nil
}

// ConfirmWithForce skips the prompt when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

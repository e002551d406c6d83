package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"zkg/pkg/pm"
	"zkg/pkg/pm/template"
	"zkg/pkg/zkgmeta"
)

// ErrPromptTerminated is returned when the user aborts a prompt.
var ErrPromptTerminated = errors.New("prompt terminated")

// PromptForInput requests input with a message and reads one line back.
func PromptForInput(ctx context.Context, in io.Reader, out io.Writer, message string) (string, error) {
	fmt.Fprint(out, message)

	result := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				errCh <- err
				return
			}
			errCh <- ErrPromptTerminated
			return
		}
		result <- strings.TrimSpace(scanner.Text())
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-result:
		return line, nil
	}
}

// PromptForConfirmation asks a yes/no question, defaulting to no.
func PromptForConfirmation(ctx context.Context, in io.Reader, out io.Writer, message string) (bool, error) {
	answer, err := PromptForInput(ctx, in, out, message+" [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// UserVarPrompt adapts PromptForInput to the user-var resolution hook.
func UserVarPrompt(ctx context.Context, in io.Reader, out io.Writer) zkgmeta.PromptFunc {
	return func(uv pm.UserVar, suggestion string) (string, error) {
		desc := ""
		if uv.Description != "" {
			desc = " (" + uv.Description + ")"
		}
		msg := fmt.Sprintf("%q requires a value%s [%s]: ", uv.Name, desc, suggestion)
		answer, err := PromptForInput(ctx, in, out, msg)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return suggestion, nil
		}
		return answer, nil
	}
}

// TemplateParamPrompt adapts PromptForInput to template parameter
// resolution.
func TemplateParamPrompt(ctx context.Context, in io.Reader, out io.Writer) func(p template.Param) (string, error) {
	return func(p template.Param) (string, error) {
		desc := ""
		if p.Description != "" {
			desc = " (" + p.Description + ")"
		}
		msg := fmt.Sprintf("template parameter %q%s [%s]: ", p.Name, desc, p.Default)
		answer, err := PromptForInput(ctx, in, out, msg)
		if err != nil {
			return "", err
		}
		if answer == "" {
			return p.Default, nil
		}
		return answer, nil
	}
}

// ParseUserVarArgs parses NAME=VAL command-line arguments.
func ParseUserVarArgs(args []string) (map[string]string, error) {
	out := map[string]string{}
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid user var argument %q, must be NAME=VAL", arg)
		}
		out[name] = val
	}
	return out, nil
}

// ParsePackageArg splits a "name@version" argument.
func ParsePackageArg(arg string) (string, string) {
	lastAt := strings.LastIndex(arg, "@")
	// Leave scp-style git@host URLs alone.
	if lastAt > 0 && !strings.HasPrefix(arg, "git@") {
		return arg[:lastAt], arg[lastAt+1:]
	}
	return arg, ""
}

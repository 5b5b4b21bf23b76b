package cmdsite

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
)

type CommandInput struct {
	Name  string
	Args  string
	Env   string
	Stdin string
}

type CommandOutput struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

func NewInput(name string, args []string, env map[string]string, stdin string) CommandInput {
	envs := []string{}
	for k, v := range env {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envs)
	input := CommandInput{
		Name:  name,
		Args:  strings.Join(args, ","),
		Env:   strings.Join(envs, ","),
		Stdin: stdin,
	}
	return input
}

func inputFor(cmd *Command) (CommandInput, error) {
	var stdin string
	if cmd.Stdin != nil {
		b, err := ioutil.ReadAll(cmd.Stdin)
		if err != nil {
			return CommandInput{}, err
		}
		stdin = string(b)
	}
	return NewInput(cmd.Name, cmd.Args, cmd.Env, stdin), nil
}

func respond(cmd *Command, output CommandOutput) error {
	if cmd.Stdout != nil {
		n, err := io.WriteString(cmd.Stdout, output.Stdout)
		if err != nil {
			return err
		}
		if n != len(output.Stdout) {
			return fmt.Errorf("insufficient write stdout: wrote only %d of %d", n, len(output.Stdout))
		}
	}

	if cmd.Stderr != nil {
		n, err := io.WriteString(cmd.Stderr, output.Stderr)
		if err != nil {
			return err
		}
		if n != len(output.Stderr) {
			return fmt.Errorf("insufficient write to stderr: wrote only %d of %d", n, len(output.Stderr))
		}
	}

	if output.ExitStatus != 0 {
		return &ExitError{Status: output.ExitStatus}
	}
	return nil
}

func NewTester(expectations map[CommandInput]CommandOutput) RunCommand {
	return func(ctx context.Context, cmd *Command) error {
		input, err := inputFor(cmd)
		if err != nil {
			return err
		}
		output, ok := expectations[input]
		if !ok {
			return fmt.Errorf("unexpected input: %v", input)
		}
		return respond(cmd, output)
	}
}

// NewSequenceTester serves outputs for a repeated input in order, one per
// call. It backs tests that probe the same command multiple times and expect
// the answer to change, like service activation polling.
func NewSequenceTester(expectations map[CommandInput][]CommandOutput) RunCommand {
	remaining := map[CommandInput][]CommandOutput{}
	for k, v := range expectations {
		remaining[k] = append([]CommandOutput{}, v...)
	}
	var mu sync.Mutex
	return func(ctx context.Context, cmd *Command) error {
		input, err := inputFor(cmd)
		if err != nil {
			return err
		}
		mu.Lock()
		outputs, ok := remaining[input]
		if !ok || len(outputs) == 0 {
			mu.Unlock()
			return fmt.Errorf("unexpected input: %v", input)
		}
		remaining[input] = outputs[1:]
		mu.Unlock()
		return respond(cmd, outputs[0])
	}
}

// Recorder remembers every input passed through it, in order.
type Recorder struct {
	mu     sync.Mutex
	Inputs []CommandInput
}

func (r *Recorder) Record(next RunCommand) RunCommand {
	return func(ctx context.Context, cmd *Command) error {
		input, err := inputFor(cmd)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.Inputs = append(r.Inputs, input)
		r.mu.Unlock()
		if cmd.Stdin != nil {
			cmd.Stdin = strings.NewReader(input.Stdin)
		}
		return next(ctx, cmd)
	}
}

func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds := make([]string, len(r.Inputs))
	for i, in := range r.Inputs {
		cmds[i] = strings.TrimRight(in.Name+" "+strings.ReplaceAll(in.Args, ",", " "), " ")
	}
	return cmds
}

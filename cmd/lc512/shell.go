package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively on one open device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.openDevice(cmd); err != nil {
				return err
			}
			return a.shell(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// interactive reports whether r is a terminal, so the prompt is only
// printed for a human.
func interactive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (a *app) shell(in io.Reader, out, errOut io.Writer) error {
	prompt := interactive(in)
	if prompt {
		fmt.Fprintln(out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	}

	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}

		words, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
			continue
		}
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "quit", "exit", "q":
			return nil
		case "shell":
			fmt.Fprintln(errOut, "Error: already in a shell")
			continue
		case "?":
			words[0] = "help"
		}

		root := a.rootCmd()
		root.SetArgs(words)
		root.SetIn(in)
		root.SetOut(out)
		root.SetErr(errOut)
		if err := root.Execute(); err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

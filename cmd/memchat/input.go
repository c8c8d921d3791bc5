package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// replInput reads user turns for the chat loop. It prefers a readline editor
// with persistent history under the storage dir; when no terminal is
// available (piped stdin, dumb environments) it degrades to plain line reads.
type replInput struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

// openREPLInput builds the input reader. On readline failure it returns a
// working stdin fallback together with the error so the caller can warn.
func openREPLInput(historyPath string) (*replInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return &replInput{scanner: bufio.NewScanner(os.Stdin)}, err
	}
	return &replInput{rl: rl}, nil
}

func (r *replInput) ReadLine(prompt string) (string, error) {
	if r.rl != nil {
		r.rl.SetPrompt(prompt)
		return r.rl.Readline()
	}
	fmt.Print(prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(r.scanner.Text(), "\r"), nil
}

func (r *replInput) Close() error {
	if r == nil || r.rl == nil {
		return nil
	}
	return r.rl.Close()
}

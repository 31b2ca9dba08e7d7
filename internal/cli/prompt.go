package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompt returns a yes/no confirmation reading answers from in.
// It keeps asking until it gets "y" or "n".
func Prompt(in io.Reader, out io.Writer) func(question string) (bool, error) {
	scanner := bufio.NewScanner(in)
	return func(question string) (bool, error) {
		for {
			fmt.Fprintf(out, "%s (y/n) ", question)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return false, err
				}
				return false, io.ErrUnexpectedEOF
			}
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "y":
				return true, nil
			case "n":
				return false, nil
			}
			fmt.Fprintln(out, "Invalid response, please enter 'y' or 'n'.")
		}
	}
}

// AutoConfirm answers every question with answer.
func AutoConfirm(answer bool) func(string) (bool, error) {
	return func(string) (bool, error) { return answer, nil }
}

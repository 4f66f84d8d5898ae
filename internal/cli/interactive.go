package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type TurnRunner func(input string) (string, error)

// RunInteractive answers one line at a time until EOF or a quit command.
// Each line is an independent query.
func RunInteractive(in io.Reader, out io.Writer, errOut io.Writer, runTurn TurnRunner) error {
	fmt.Fprintln(out, "type your question, or :quit to exit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		handled, shouldExit := dispatchLocalCommand(input)
		if handled {
			if shouldExit {
				break
			}
			continue
		}

		responseText, runErr := runTurn(input)
		if runErr != nil {
			fmt.Fprintf(errOut, "error: %v\n", runErr)
			continue
		}

		fmt.Fprintf(out, "assistant> %s\n", responseText)
	}

	return scanner.Err()
}

func dispatchLocalCommand(input string) (handled bool, shouldExit bool) {
	switch strings.ToLower(input) {
	case ":exit", ":quit", "quit":
		return true, true
	default:
		return false, false
	}
}

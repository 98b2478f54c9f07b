package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/surfer-cli/cmd"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
  surfer - a language model at the wheel of a browser
  type a command (e.g. run "find the pricing page" -d example.com), or exit

`

// Function variables for dependency injection in tests.
var (
	osWriteFile           = os.WriteFile
	osExit                = os.Exit
	stderr      io.Writer = os.Stderr
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			fmt.Fprintln(stderr, "Error:", err)
			osExit(exitCode(err))
		}
		return
	}

	fmt.Print(banner)
	if err := interactive(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(stderr, "Error reading from stdin:", err)
		osExit(1)
	}
	fmt.Println("Exiting surfer.")
}

// exitCode maps an interrupted command to a clean exit.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

// interactive reads commands line by line until EOF, exit or quit.
func interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "surfer > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, splitArgs(line), out)
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// executeInteractiveCommand runs one line on a fresh command tree so flags
// from one command do not leak into the next.
func executeInteractiveCommand(ctx context.Context, args []string, out io.Writer) {
	root := cmd.NewRootCommand()
	root.SetArgs(args)
	root.SetOut(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Error: command panicked: %v\n", r)
		}
	}()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
}

// splitArgs splits a line on whitespace, keeping double-quoted runs together.
func splitArgs(line string) []string {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		pending bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case (r == ' ' || r == '\t') && !quoted:
			if pending {
				args = append(args, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if pending {
		args = append(args, cur.String())
	}
	return args
}

// handlePanic writes the panic and its stack to panic.log and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(stderr, "Panic details:\n%s\n", msg)
		osExit(2)
		return
	}
	fmt.Fprintf(stderr, "surfer crashed; details logged to %s\n", panicLogFile)
	osExit(2)
}

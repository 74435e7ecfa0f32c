package format

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether stdout should receive terminal formatting: not
// piped, NO_COLOR unset, TERM not "dumb"/empty. CLICOLOR_FORCE
// overrides all of that, so CI logs that understand ANSI can opt in.
func IsTTY() bool {
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	termEnv := os.Getenv("TERM")
	if termEnv == "dumb" || termEnv == "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

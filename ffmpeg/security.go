package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a configured argument string without involving a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// SanitizeAndValidateArgs checks operator-supplied global arguments. They may
// tune logging or threading but must not add inputs or shell syntax.
func SanitizeAndValidateArgs(args []string) error {
	for _, arg := range args {
		if arg == "-i" || arg == "-f" {
			return fmt.Errorf("argument %s is reserved for the pipeline", arg)
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

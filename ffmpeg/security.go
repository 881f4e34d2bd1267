package ffmpeg

import (
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// ValidateExtraArgs splits a user-supplied flag string into arguments
// without involving a shell, and rejects anything that smells like an
// injection attempt. exec.Command never interprets metacharacters, but
// there is no reason to let them through either.
func ValidateExtraArgs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	args, err := shlex.Split(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid flag syntax")
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return nil, errors.Errorf("disallowed character in argument: %s", arg)
		}
	}
	return args, nil
}

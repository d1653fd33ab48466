//go:build !unix

package handoff

import "errors"

func execve(string, []string, []string) error {
	return errors.New("process replacement is only supported on unix")
}

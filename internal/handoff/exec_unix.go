//go:build unix

package handoff

import "syscall"

func execve(argv0 string, argv []string, envv []string) error {
	return syscall.Exec(argv0, argv, envv)
}

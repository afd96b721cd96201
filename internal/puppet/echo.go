package puppet

import (
	"os"

	"golang.org/x/sys/unix"
)

// disableEcho turns off terminal echo on the pty pair so agent output
// is received clean, without the delivered prompt mixed in.
func disableEcho(f *os.File) error {
	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return err
	}
	t.Lflag &^= unix.ECHO
	return unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t)
}

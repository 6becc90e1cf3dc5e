package uart

import (
	"os"

	"golang.org/x/term"
)

// RawTerminal puts the controlling terminal into raw mode for the
// lifetime of a Console loop and restores it on Restore, mirroring
// TerminalRawMode's constructor/destructor pairing.
type RawTerminal struct {
	fd    int
	state *term.State
}

// EnterRawMode saves the current terminal settings for fd and switches
// it to raw mode: no echo, no line buffering, no signal generation from
// Ctrl-C/Ctrl-Z, so every byte typed reaches the guest's console driver
// untouched.
func EnterRawMode(fd int) (*RawTerminal, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawTerminal{fd: fd, state: state}, nil
}

// Restore puts the terminal back the way it was before EnterRawMode.
func (t *RawTerminal) Restore() error {
	return term.Restore(t.fd, t.state)
}

// StdinFD is the descriptor Console polls for keyboard input.
func StdinFD() int {
	return int(os.Stdin.Fd())
}

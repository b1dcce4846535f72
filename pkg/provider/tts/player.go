package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Player renders a PCM stream.
type Player interface {
	// Play consumes pcm until it is closed or ctx ends.
	Play(ctx context.Context, pcm <-chan []byte) error
}

// CommandPlayer pipes PCM into the stdin of an external program, for example
// `ffplay -nodisp -autoexit -f s16le -ar 16000 -ac 1 -`.
type CommandPlayer struct {
	// Command is the program and its arguments.
	Command []string
}

// NewCommandPlayer returns a player running argv. argv must not be empty.
func NewCommandPlayer(argv ...string) (*CommandPlayer, error) {
	if len(argv) == 0 {
		return nil, errors.New("tts: player command must not be empty")
	}
	return &CommandPlayer{Command: argv}, nil
}

// Play starts the command, writes every chunk to its stdin and waits for it
// to exit. The remaining chunks are drained when the command fails early.
func (p *CommandPlayer) Play(ctx context.Context, pcm <-chan []byte) error {
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("tts: player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		drain(pcm)
		return fmt.Errorf("tts: start player %q: %w", p.Command[0], err)
	}

	var writeErr error
	for chunk := range pcm {
		if writeErr != nil {
			continue
		}
		if _, err := stdin.Write(chunk); err != nil {
			writeErr = err
		}
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tts: player %q: %w", p.Command[0], err)
	}
	if writeErr != nil && !errors.Is(writeErr, io.ErrClosedPipe) {
		return fmt.Errorf("tts: write to player: %w", writeErr)
	}
	return nil
}

func drain(ch <-chan []byte) {
	for range ch {
	}
}

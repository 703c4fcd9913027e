// Package prompt asks the user how to settle sync conflicts.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/openmined/treesync/internal/client/sync"
)

const (
	answerSkip      = "s"
	answerLocal     = "l"
	answerRemote    = "r"
	answerLocalAll  = "la"
	answerRemoteAll = "ra"
)

const linePrompt = `
	Conflict detected at %s
	Please choose which version to keep
	enter "l" to upload the local version
	enter "r" to download the remote version
	add "a" to do the same for any other conflicted files
		i.e. ("la" or "ra")
	> `

// parseAnswer maps an answer to a decision. ok is false for anything that
// is not one of the four answers.
func parseAnswer(answer string) (d sync.Decision, ok bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case answerLocal:
		return sync.Decision{Resolution: sync.KeepLocal}, true
	case answerRemote:
		return sync.Decision{Resolution: sync.KeepRemote}, true
	case answerLocalAll:
		return sync.Decision{Resolution: sync.KeepLocal, ApplyToAll: true}, true
	case answerRemoteAll:
		return sync.Decision{Resolution: sync.KeepRemote, ApplyToAll: true}, true
	}
	return sync.Decision{}, false
}

// LineDecider reads answers line by line. It works on any stream, including
// a pipe. An unrecognized answer yields no resolution and the resolver asks
// again; end of input leaves the conflict unresolved.
type LineDecider struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLineDecider(in io.Reader, out io.Writer) *LineDecider {
	return &LineDecider{in: bufio.NewReader(in), out: out}
}

func (d *LineDecider) Decide(ctx context.Context, c sync.Conflict) (sync.Decision, error) {
	if err := ctx.Err(); err != nil {
		return sync.Decision{}, err
	}

	fmt.Fprintf(d.out, linePrompt, c.Path)

	line, err := d.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		fmt.Fprintln(d.out)
		return sync.Decision{}, fmt.Errorf("%w: %s: no input", sync.ErrConflictUnresolved, c.Path)
	}

	decision, ok := parseAnswer(line)
	if !ok {
		fmt.Fprintf(d.out, "\tinvalid answer %q\n", strings.TrimSpace(line))
	}
	return decision, nil
}

// HuhDecider shows a select list on a terminal.
type HuhDecider struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

func NewHuhDecider(in io.Reader, out io.Writer, accessible bool) *HuhDecider {
	return &HuhDecider{in: in, out: out, accessible: accessible}
}

func (d *HuhDecider) Decide(ctx context.Context, c sync.Conflict) (sync.Decision, error) {
	var choice string

	// skip comes first so that an empty answer never picks a side
	sel := huh.NewSelect[string]().
		Title(fmt.Sprintf("Conflict detected at %s", c.Path)).
		Description("Changed locally and remotely since the last sync. Which version to keep?").
		Options(
			huh.NewOption("Skip, leave both untouched", answerSkip),
			huh.NewOption("Upload the local version", answerLocal),
			huh.NewOption("Download the remote version", answerRemote),
			huh.NewOption("Upload local for this and all remaining conflicts", answerLocalAll),
			huh.NewOption("Download remote for this and all remaining conflicts", answerRemoteAll),
		).
		Value(&choice)

	err := huh.NewForm(huh.NewGroup(sel)).
		WithInput(d.in).
		WithOutput(d.out).
		WithAccessible(d.accessible).
		RunWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return sync.Decision{}, ctx.Err()
		}
		if errors.Is(err, huh.ErrUserAborted) {
			return sync.Decision{}, fmt.Errorf("%w: %s: aborted", sync.ErrConflictUnresolved, c.Path)
		}
		return sync.Decision{}, err
	}

	decision, ok := parseAnswer(choice)
	if !ok {
		return sync.Decision{}, fmt.Errorf("%w: %s: skipped", sync.ErrConflictUnresolved, c.Path)
	}
	return decision, nil
}

package notify_exec

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// Notifier runs a configured command with the title and body appended as
// its last two arguments, e.g. notify-send --app-name=aerotiles.
type Notifier struct {
	argv    []string
	soft    bool
	timeout time.Duration
}

func New(argv []string) *Notifier { return &Notifier{argv: argv, timeout: 10 * time.Second} }

// NewSoft returns a Notifier that swallows command failures.
func NewSoft(argv []string) *Notifier {
	return &Notifier{argv: argv, soft: true, timeout: 10 * time.Second}
}

func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	if len(n.argv) == 0 {
		return errors.New("notify: empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	args := append(append([]string(nil), n.argv[1:]...), title, body)
	cmd := exec.CommandContext(ctx, n.argv[0], args...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

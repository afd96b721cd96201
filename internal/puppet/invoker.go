package puppet

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/squadron-dev/squadron/internal/classify"
	"github.com/squadron-dev/squadron/internal/errors"
	"github.com/squadron-dev/squadron/internal/logging"
)

// Invoker runs one exchange with an external agent process. The prompt
// goes to the process over stdin; accumulated output comes back once the
// classifier judges the response complete or the process exits. onData
// receives raw output chunks as they arrive and may be nil.
type Invoker interface {
	Invoke(ctx context.Context, dir, prompt string, quick bool, onData func([]byte)) (string, error)
}

// PTYInvoker launches the agent binary under a pseudo-terminal. Agent
// CLIs detect non-tty stdout and change behavior (buffering, disabled
// streaming), so a real PTY is required rather than plain pipes.
type PTYInvoker struct {
	binary           string
	classifier       *classify.Classifier
	quickClassifier  *classify.Classifier
	firstOutputGrace time.Duration
	log              *logging.Logger

	// start is swappable for tests.
	start func(cmd *exec.Cmd) (*os.File, error)
}

// NewPTYInvoker creates an invoker for the given agent binary.
func NewPTYInvoker(binary string, firstOutputGrace time.Duration, log *logging.Logger) *PTYInvoker {
	if log == nil {
		log = logging.NopLogger()
	}
	return &PTYInvoker{
		binary:           binary,
		classifier:       classify.New(classify.DefaultRules()),
		quickClassifier:  classify.New(classify.QuickRules()),
		firstOutputGrace: firstOutputGrace,
		log:              log,
		start:            pty.Start,
	}
}

// classifyInterval is how often the accumulated output is re-examined
// while no new bytes arrive.
const classifyInterval = 250 * time.Millisecond

// asciiEOT is Ctrl-D, which closes stdin on a PTY line discipline.
const asciiEOT = 0x04

// Invoke runs one one-shot agent call. The process is always launched
// fresh; no state is shared between calls beyond the working directory.
func (p *PTYInvoker) Invoke(ctx context.Context, dir, prompt string, quick bool, onData func([]byte)) (string, error) {
	cmd := exec.CommandContext(ctx, p.binary, p.args(quick)...)
	cmd.Dir = dir
	// Credentials reach the agent through the environment only. Nothing
	// is written to disk and the prompt never appears in argv.
	cmd.Env = os.Environ()

	ptmx, err := p.start(cmd)
	if err != nil {
		return "", errors.NewAgentError("failed to start agent process",
			errors.Join(errors.ErrAgentStartFailed, err))
	}
	defer ptmx.Close()

	// The line discipline would otherwise echo the prompt back into the
	// output stream, where its trailing newline alone can satisfy the
	// classifier.
	if err := disableEcho(ptmx); err != nil {
		p.log.Warn("failed to disable pty echo", "error", err)
	}

	if _, err := ptmx.Write(append([]byte(prompt+"\n"), asciiEOT)); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return "", errors.NewAgentError("failed to deliver prompt", err)
	}

	chunks := make(chan []byte, 64)
	go readChunks(ptmx, chunks)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	classifier := p.classifier
	if quick {
		classifier = p.quickClassifier
	}

	var buffer []byte
	started := time.Now()
	lastByte := time.Time{}
	ticker := time.NewTicker(classifyInterval)
	defer ticker.Stop()

	finish := func(out string, err error) (string, error) {
		_ = cmd.Process.Kill()
		if chunks != nil {
			go func() {
				for range chunks {
				}
			}()
		}
		<-exited
		return out, err
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil // PTY closed; wait for process exit
				continue
			}
			buffer = append(buffer, chunk...)
			lastByte = time.Now()
			if onData != nil {
				onData(chunk)
			}
			if res := classifier.Classify(buffer, 0); res.IsComplete {
				return finish(string(buffer), nil)
			}

		case <-ticker.C:
			if lastByte.IsZero() {
				if time.Since(started) >= p.firstOutputGrace {
					return finish("", errors.NewAgentError("agent produced no output", errors.ErrAgentStartFailed))
				}
				continue
			}
			if res := classifier.Classify(buffer, time.Since(lastByte)); res.IsComplete {
				return finish(string(buffer), nil)
			}

		case err := <-exited:
			// Drain anything still buffered in the read goroutine. The
			// PTY read fails once the child is gone, so the channel is
			// guaranteed to close.
			if chunks != nil {
				for chunk := range chunks {
					buffer = append(buffer, chunk...)
					if onData != nil {
						onData(chunk)
					}
				}
			}
			out := string(buffer)
			if ctx.Err() != nil {
				return out, errors.NewTimeoutError("agent call", time.Since(started))
			}
			if len(out) > minMeaningfulOutput {
				return out, nil
			}
			if err != nil {
				return out, errors.NewAgentError("agent process failed", err)
			}
			return out, errors.NewAgentError("agent exited without a response", errors.ErrAgentStartFailed)

		case <-ctx.Done():
			return finish(string(buffer), errors.NewTimeoutError("agent call", time.Since(started)))
		}
	}
}

// args builds the invocation flag set: non-interactive print mode,
// machine-readable output, no permission prompts, and a stable session
// id so agent-side transcripts group by call.
func (p *PTYInvoker) args(quick bool) []string {
	args := []string{
		"--print",
		"--output-format", "text",
		"--dangerously-skip-permissions",
		"--session-id", uuid.NewString(),
	}
	if quick {
		args = append(args, "--max-turns", "1")
	}
	return args
}

// readChunks copies PTY output onto the channel until read error. A PTY
// returns EIO when the child exits, which lands here as the close path.
func readChunks(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

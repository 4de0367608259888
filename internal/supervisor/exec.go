package supervisor

import (
	"io"
	"os"
	"os/exec"
)

// execProcess adapts exec.Cmd to the Process interface.
type execProcess struct{ cmd *exec.Cmd }

func (p *execProcess) PID() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }

// execSpawn starts bin with a structured argv. No shell is involved, so
// model names and paths never pass through quoting.
func execSpawn(bin string, args []string, sink io.Writer) (Process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = sink
	cmd.Stderr = sink
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

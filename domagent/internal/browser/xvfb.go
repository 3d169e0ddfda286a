package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const displayReadyTimeout = 5 * time.Second

// virtualDisplay is an Xvfb server hosting a headful Chrome whose page is
// being mirrored.
type virtualDisplay struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger
}

// displaySocket returns the X11 socket Xvfb creates for name (":99" ->
// "/tmp/.X11-unix/X99").
func displaySocket(name string) (string, error) {
	num, ok := strings.CutPrefix(name, ":")
	if !ok || num == "" {
		return "", fmt.Errorf("display %q: want :N", name)
	}
	num, _, _ = strings.Cut(num, ".")
	return "/tmp/.X11-unix/X" + num, nil
}

// startDisplay runs Xvfb on name and returns once its socket accepts
// clients. Chrome exits at launch when DISPLAY points nowhere.
func startDisplay(name string, logger *slog.Logger) (*virtualDisplay, error) {
	sock, err := displaySocket(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start on %s: %w", name, err)
	}
	d := &virtualDisplay{name: name, cmd: cmd, logger: logger}

	deadline := time.Now().Add(displayReadyTimeout)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			d.stop()
			return nil, fmt.Errorf("display %s: no socket at %s after %s", name, sock, displayReadyTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
	logger.Info("browser: virtual display ready", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

func (d *virtualDisplay) stop() {
	if d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
	d.logger.Info("browser: virtual display stopped", "display", d.name)
}

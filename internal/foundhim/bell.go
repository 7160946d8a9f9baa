package foundhim

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// BellFunc rings an audible notification.
type BellFunc func()

// SystemBell picks the notification sound for the current platform.
// Platforms without a system sound fall back to the terminal bell.
func SystemBell() BellFunc {
	switch runtime.GOOS {
	case "darwin":
		return func() {
			_ = exec.Command("osascript", "-e", "beep").Run()
		}
	case "linux":
		return func() {
			if err := exec.Command("paplay", "/usr/share/sounds/freedesktop/bell.oga").Run(); err != nil {
				fmt.Fprint(os.Stdout, "\a")
			}
		}
	default:
		return func() {
			fmt.Fprint(os.Stdout, "\a")
		}
	}
}

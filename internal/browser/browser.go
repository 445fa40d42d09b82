// Package browser opens URLs in the user's default web browser. The client
// popup controller uses it to launch the authorization flow when there is no
// embedding browser window to open a popup from.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// OpenURL opens the given URL in the default browser, falling back to
// platform-specific commands when the library launcher fails.
func OpenURL(url string) error {
	if err := open.Run(url); err == nil {
		return nil
	} else {
		log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	}
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		for _, candidate := range []string{"xdg-open", "x-www-browser", "firefox", "chromium", "google-chrome"} {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
	}
	if cmd == nil {
		return fmt.Errorf("no suitable browser launcher found for %s", runtime.GOOS)
	}
	return cmd.Start()
}

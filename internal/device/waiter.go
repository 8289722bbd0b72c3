package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/pilebones/go-udev/netlink"
)

// WaitForDisc blocks until a udev event reports disc media in device or the
// context ends. Cancel or deadline the context to bound the wait.
func WaitForDisc(ctx context.Context, device string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return fmt.Errorf("no device specified")
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect netlink socket: %w", err)
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, discMatcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case uevent := <-queue:
			if eventDeviceName(uevent) == device {
				return nil
			}
		case err := <-errs:
			return fmt.Errorf("netlink monitor: %w", err)
		}
	}
}

// discMatcher matches SUBSYSTEM=block, ID_CDROM=1, ID_CDROM_MEDIA=1 with
// action change or add.
func discMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":      "block",
			"ID_CDROM":       "1",
			"ID_CDROM_MEDIA": "1",
		},
	})
	return rules
}

func eventDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}

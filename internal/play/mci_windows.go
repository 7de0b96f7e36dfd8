//go:build windows

package play

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mciPollInterval is how often Wait asks MCI whether playback is still running.
const mciPollInterval = 100 * time.Millisecond

var (
	winmm                  = windows.NewLazySystemDLL("winmm.dll")
	procMciSendStringW     = winmm.NewProc("mciSendStringW")
	procMciGetErrorStringW = winmm.NewProc("mciGetErrorStringW")
)

// NewNativeCommander returns the winmm MCI commander. With a configured
// player it runs that program instead.
func NewNativeCommander(player string) MediaCommander {
	if player != "" {
		return newProcessCommander(player)
	}
	return mciCommander{}
}

type mciCommander struct{}

func (mciCommander) Open(path, alias string) error {
	_, err := mciSend(fmt.Sprintf(`open "%s" type mpegvideo alias %s`, path, alias))
	return err
}

func (mciCommander) Play(alias string) error {
	_, err := mciSend("play " + alias)
	return err
}

func (mciCommander) Wait(ctx context.Context, alias string) error {
	ticker := time.NewTicker(mciPollInterval)
	defer ticker.Stop()

	for {
		mode, err := mciSend("status " + alias + " mode")
		if err != nil {
			return err
		}
		if !strings.EqualFold(mode, "playing") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (mciCommander) Stop(alias string) error {
	_, err := mciSend("stop " + alias)
	return err
}

func (mciCommander) Close(alias string) error {
	_, err := mciSend("close " + alias)
	return err
}

// mciSend runs one MCI command string and returns its text result.
func mciSend(command string) (string, error) {
	cmd, err := windows.UTF16PtrFromString(command)
	if err != nil {
		return "", err
	}
	ret := make([]uint16, 128)
	code, _, _ := procMciSendStringW.Call(
		uintptr(unsafe.Pointer(cmd)),
		uintptr(unsafe.Pointer(&ret[0])),
		uintptr(len(ret)),
		0,
	)
	if code != 0 {
		return "", fmt.Errorf("mci %q: %s", command, mciErrorText(code))
	}
	return windows.UTF16ToString(ret), nil
}

func mciErrorText(code uintptr) string {
	buf := make([]uint16, 256)
	ok, _, _ := procMciGetErrorStringW.Call(code, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if ok == 0 {
		return fmt.Sprintf("error %d", code)
	}
	return windows.UTF16ToString(buf)
}

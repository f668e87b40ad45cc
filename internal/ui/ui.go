// Package ui provides the system tray front end of the orchestrator.
package ui

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"fyne.io/systray"
	"github.com/thejerf/suture/v4"

	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/logger"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

var (
	service *core.Service

	// uiMu guards the menu items and the last status.
	uiMu         sync.Mutex
	currentState = "disconnected"
	lastStatus   *core.StatusPayload

	// Systray menu items
	mStatus     *systray.MenuItem
	mNext       *systray.MenuItem
	mConnect    *systray.MenuItem
	mDisconnect *systray.MenuItem
	mReconnect  *systray.MenuItem
	mProtocol   *systray.MenuItem
	mCancel     *systray.MenuItem
	mReset      *systray.MenuItem
	mIP         *systray.MenuItem
	mQuit       *systray.MenuItem

	protocolItems = map[string]*systray.MenuItem{}
)

// Run shows the tray icon and runs svc, with any extra services, until the
// user quits.
func Run(svc *core.Service, extra ...suture.Service) error {
	service = svc
	service.OnStatus(updateUI)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	var started atomic.Bool
	onReady := func() {
		started.Store(true)
		buildMenu()
		logger.SafeGo("service", func() {
			err := service.Run(ctx, extra...)
			if err != nil {
				logger.Error("Service stopped: %v", err)
			}
			done <- err
			systray.Quit()
		})
	}
	onExit := func() {
		logger.Info("Tray shutting down")
		cancel()
	}

	// Blocks until Quit.
	systray.Run(onReady, onExit)
	if !started.Load() {
		return nil
	}
	return <-done
}

func buildMenu() {
	systray.SetIcon(GetIcon("disconnected"))
	systray.SetTitle("VPN")
	systray.SetTooltip("VPN: disconnected")

	mStatus = systray.AddMenuItem("Status: disconnected", "")
	mStatus.Disable()
	mNext = systray.AddMenuItem("", "")
	mNext.Disable()
	mNext.Hide()

	systray.AddSeparator()

	mConnect = systray.AddMenuItem("Connect", "Connect with the best protocol")
	mDisconnect = systray.AddMenuItem("Disconnect", "")
	mDisconnect.Disable()
	mReconnect = systray.AddMenuItem("Reconnect", "Reconnect with a rebuilt protocol list")

	mProtocol = systray.AddMenuItem("Protocol", "")
	for _, name := range protocols.Supported {
		item := mProtocol.AddSubMenuItemCheckbox(name, "", false)
		item.Hide()
		protocolItems[name] = item
		go watchProtocol(name, item)
	}
	mCancel = systray.AddMenuItem("Cancel failover", "Stop the countdown to the next protocol")
	mCancel.Hide()
	mReset = systray.AddMenuItem("Reset protocol list", "Forget failed protocols")

	systray.AddSeparator()

	mIP = systray.AddMenuItem("Show public IP", "")
	mQuit = systray.AddMenuItem("Quit", "")

	updateUI(service.GetStatusPayload())

	go func() {
		defer logger.Recover("systray-menu-loop")
		for {
			select {
			case <-mConnect.ClickedCh:
				go doConnect()
			case <-mDisconnect.ClickedCh:
				go doDisconnect()
			case <-mReconnect.ClickedCh:
				go doReconnect()
			case <-mCancel.ClickedCh:
				service.CancelFailover()
			case <-mReset.ClickedCh:
				service.ResetCandidates()
			case <-mIP.ClickedCh:
				go showIP()
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func watchProtocol(name string, item *systray.MenuItem) {
	defer logger.Recover("protocol-" + name)
	for range item.ClickedCh {
		uiMu.Lock()
		var list protocols.CandidateList
		if lastStatus != nil {
			list = lastStatus.Candidates
		}
		uiMu.Unlock()

		i := list.Index(name)
		if i < 0 {
			continue
		}
		logger.Connection("User selected %s", list[i].ProtocolPort)
		service.SelectProtocol(list[i].ProtocolPort)
	}
}

func doConnect() {
	defer logger.Recover("doConnect")
	logger.Connection("User initiated VPN connection")

	mConnect.Disable()
	if err := service.Connect(context.Background()); err != nil {
		logger.Error("Failed to connect: %v", err)
		// The status listener re-enables the menu.
	}
}

func doDisconnect() {
	defer logger.Recover("doDisconnect")
	logger.Connection("User initiated VPN disconnection")

	mDisconnect.Disable()
	if err := service.Disconnect(context.Background()); err != nil {
		logger.Error("Failed to disconnect: %v", err)
	}
}

func doReconnect() {
	defer logger.Recover("doReconnect")
	logger.Connection("User requested reconnect")
	if err := service.Reconnect(context.Background()); err != nil {
		logger.Error("Failed to reconnect: %v", err)
	}
}

func showIP() {
	defer logger.Recover("showIP")
	ip, err := service.IPAddress(context.Background())
	uiMu.Lock()
	defer uiMu.Unlock()
	if err != nil {
		mIP.SetTitle("Public IP: unavailable")
		return
	}
	mIP.SetTitle("Public IP: " + ip)
}

func updateUI(status *core.StatusPayload) {
	defer logger.Recover("updateUI")
	if status == nil || mStatus == nil {
		return
	}

	uiMu.Lock()
	defer uiMu.Unlock()

	if currentState != status.State {
		logger.Debug("Tray state %s -> %s", currentState, status.State)
	}
	currentState = status.State
	lastStatus = status

	v := describe(status)
	mStatus.SetTitle(v.title)
	systray.SetTooltip(v.tooltip)
	systray.SetIcon(GetIcon(v.icon))
	if v.next != "" {
		mNext.SetTitle(v.next)
		mNext.Show()
	} else {
		mNext.Hide()
	}
	if v.canConnect {
		mConnect.Enable()
	} else {
		mConnect.Disable()
	}
	if v.canDisconnect {
		mDisconnect.Enable()
	} else {
		mDisconnect.Disable()
	}
	if status.Countdown > 0 {
		mCancel.Show()
	} else {
		mCancel.Hide()
	}

	for name, item := range protocolItems {
		i := status.Candidates.Index(name)
		if i < 0 {
			item.Hide()
			continue
		}
		item.SetTitle(candidateTitle(status.Candidates[i]))
		if status.Candidates[i].View.Kind == protocols.ViewConnected {
			item.Check()
		} else {
			item.Uncheck()
		}
		item.Show()
	}
}

// view is what the tray shows for one status.
type view struct {
	title         string
	tooltip       string
	icon          string
	next          string
	canConnect    bool
	canDisconnect bool
}

func describe(status *core.StatusPayload) view {
	var v view
	switch status.State {
	case "connected":
		v.title = fmt.Sprintf("Status: connected (%s %s)", status.Protocol, status.Port)
		v.tooltip = fmt.Sprintf("VPN: connected via %s\nLocal IP: %s", status.Protocol, status.LocalIP)
		v.icon = "connected"
		v.canDisconnect = true
	case "connecting":
		v.title = fmt.Sprintf("Status: connecting (%s)", status.Protocol)
		v.tooltip = "VPN: connecting..."
		v.icon = "connecting"
		v.canDisconnect = true
	case "disconnecting":
		v.title = "Status: disconnecting"
		v.tooltip = "VPN: disconnecting..."
		v.icon = "disconnecting"
	case "error":
		v.title = "Status: error"
		v.tooltip = "VPN: error\n" + status.Error
		v.icon = "error"
		v.canConnect = true
	default:
		v.title = "Status: disconnected"
		v.tooltip = "VPN: disconnected"
		v.icon = "disconnected"
		v.canConnect = true
	}

	if status.Countdown > 0 {
		v.next = fmt.Sprintf("Trying %s in %ds", status.Next, status.Countdown)
		if v.icon != "connected" {
			v.icon = "countdown"
		}
	} else if status.Next != "" && status.State != "connected" {
		v.next = "Next: " + status.Next
	}
	return v
}

func candidateTitle(c protocols.DisplayProtocolPort) string {
	title := c.ProtocolPort.String()
	switch c.View.Kind {
	case protocols.ViewConnected:
		title += " (connected)"
	case protocols.ViewFail:
		title += " (failed)"
	case protocols.ViewNextUp:
		if c.View.Countdown > 0 {
			title += fmt.Sprintf(" (next in %ds)", c.View.Countdown)
		} else {
			title += " (next)"
		}
	}
	return title
}

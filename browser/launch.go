package browser

import (
	"fmt"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/stealth"

	"github.com/JakeLiuMe/webpeel-sub001/config"
)

// baseViewports are common desktop resolutions; a launch picks one and
// jitters it so pool instances don't share an identical fingerprint.
var baseViewports = [][2]int{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

// randomViewport returns a realistic, slightly jittered window size.
func randomViewport() (int, int) {
	v := baseViewports[rand.Intn(len(baseViewports))]
	return v[0] - rand.Intn(16), v[1] - rand.Intn(16)
}

// launch starts a Chromium instance with the anti-automation flag set
// and connects to it. userDataDir, when non-empty, binds the browser to
// a persistent profile directory.
func launch(cfg config.Browser, userDataDir string) (*rod.Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}
	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}

	// Mask the obvious automation tells before any page exists.
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	w, h := randomViewport()
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", w, h))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// newStealthPage creates a page with the stealth script installed for
// every subsequent navigation. All pool pages go through here so a
// recycled page is indistinguishable from a fresh one.
func newStealthPage(b *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return page, nil
}

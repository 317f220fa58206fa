package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// extraEvasions patches the signals go-rod/stealth leaves alone and that the
// target platform is known to inspect.
const extraEvasions = `
(() => {
    try {
        Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
        delete Object.getPrototypeOf(navigator).webdriver;
    } catch (e) {}

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en', 'ja']),
        configurable: true
    });

    if (!navigator.hardwareConcurrency) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
    }
    if (!navigator.deviceMemory) {
        Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });
    }

    try {
        const query = Permissions.prototype.query;
        Permissions.prototype.query = function (p) {
            if (p && p.name === 'notifications') {
                return Promise.resolve({ state: Notification.permission });
            }
            return query.call(this, p);
        };
    } catch (e) {}

    window.chrome = window.chrome || {};
    window.chrome.runtime = window.chrome.runtime || { connect() {}, sendMessage() {} };
})();
`

// CreateStealthPage opens a page with go-rod/stealth evasions plus
// extraEvasions installed before any document script runs.
func CreateStealthPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, err
	}

	if _, err := page.EvalOnNewDocument(extraEvasions); err != nil {
		_ = page.Close()
		return nil, err
	}

	return page, nil
}

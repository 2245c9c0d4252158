// Package openurl hands a URL to the desktop environment. Providers
// are tried in order until one succeeds; callers treat the whole thing
// as best effort.
package openurl

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Provider launches a URL through one external mechanism.
type Provider struct {
	Name string
	Open func(url string) error
}

func commandProvider(name string, args ...string) Provider {
	return Provider{
		Name: name,
		Open: func(url string) error {
			return exec.Command(name, append(args, url)...).Start()
		},
	}
}

// DefaultProviders returns the ranked provider list for the current
// platform. The first entry is the platform's native opener; the rest
// are fallbacks for unusual setups (e.g. xdg-open missing inside a
// container).
func DefaultProviders() []Provider {
	switch runtime.GOOS {
	case "darwin":
		return []Provider{commandProvider("open")}
	case "windows":
		return []Provider{commandProvider("rundll32", "url.dll,FileProtocolHandler")}
	default:
		return []Provider{
			commandProvider("xdg-open"),
			commandProvider("sensible-browser"),
			commandProvider("x-www-browser"),
		}
	}
}

// Opener tries each provider in order.
type Opener struct {
	providers []Provider
}

func NewOpener(providers ...Provider) *Opener {
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	return &Opener{providers: providers}
}

// Open attempts each provider until one accepts the URL. The returned
// error wraps the last failure and exists for logging; nothing should
// fail a session because a browser could not be found.
func (o *Opener) Open(url string) error {
	var lastErr error
	for _, p := range o.providers {
		if err := p.Open(url); err != nil {
			lastErr = fmt.Errorf("%s: %w", p.Name, err)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no URL opener available")
	}
	return lastErr
}

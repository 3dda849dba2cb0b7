// Package device classifies viewer user agents.
package device

import (
	"github.com/mileusna/useragent"

	"github.com/flipshare/flipshare/internal/model"
)

// Classify parses a User-Agent header. An empty header yields nil so the view
// row stores NULL device columns instead of empty strings.
func Classify(userAgent string) *model.Device {
	if userAgent == "" {
		return nil
	}
	ua := useragent.Parse(userAgent)
	d := &model.Device{
		Browser: ua.Name,
		OS:      ua.OS,
		Mobile:  ua.Mobile || ua.Tablet,
	}
	switch {
	case ua.Bot:
		d.Family = "bot"
	case ua.Tablet:
		d.Family = "tablet"
	case ua.Mobile:
		d.Family = "mobile"
	case ua.Desktop:
		d.Family = "desktop"
	default:
		d.Family = "unknown"
	}
	return d
}

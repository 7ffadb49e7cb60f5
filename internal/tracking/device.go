package tracking

import (
	"strings"

	"github.com/refmetric/refmetric/internal/models"
)

var mobileMarkers = []string{
	"mobile",
	"android",
	"iphone",
	"ipad",
	"ipod",
	"windows phone",
	"blackberry",
	"opera mini",
}

// ClassifyDevice maps a User-Agent string onto the mobile/desktop/
// unknown buckets. An empty User-Agent is unknown; anything with a
// mobile marker is mobile; the rest is assumed desktop.
func ClassifyDevice(userAgent string) models.DeviceType {
	if strings.TrimSpace(userAgent) == "" {
		return models.DeviceUnknown
	}

	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return models.DeviceMobile
		}
	}
	return models.DeviceDesktop
}

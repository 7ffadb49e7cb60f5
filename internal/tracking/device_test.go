package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/refmetric/refmetric/internal/models"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		want      models.DeviceType
	}{
		{
			name:      "iphone safari",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15",
			want:      models.DeviceMobile,
		},
		{
			name:      "android chrome",
			userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36",
			want:      models.DeviceMobile,
		},
		{
			name:      "windows desktop chrome",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
			want:      models.DeviceDesktop,
		},
		{
			name:      "mac desktop firefox",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			want:      models.DeviceDesktop,
		},
		{
			name:      "opera mini",
			userAgent: "Opera/9.80 (J2ME/MIDP; Opera Mini/9.80) Presto/2.5.25",
			want:      models.DeviceMobile,
		},
		{
			name:      "empty user agent",
			userAgent: "",
			want:      models.DeviceUnknown,
		},
		{
			name:      "whitespace only",
			userAgent: "   ",
			want:      models.DeviceUnknown,
		},
		{
			name:      "curl is desktop",
			userAgent: "curl/8.4.0",
			want:      models.DeviceDesktop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDevice(tt.userAgent))
		})
	}
}

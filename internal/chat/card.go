package chat

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parceltrack.org/internal/tracking"
)

// MapDelta is the half-width, in degrees, of the embedded map's bounding box.
const MapDelta = 0.05

// StatusCard renders a package as the multi-line chat reply.
func StatusCard(p tracking.Package, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	location := "Unknown"
	if p.HasLocation() {
		location = fmt.Sprintf("%.4f, %.4f", *p.LastLocationLat, *p.LastLocationLng)
	}
	return strings.Join([]string{
		"📦 Tracking: " + p.TrackingNumber,
		"🚚 Carrier: " + orUnknown(p.Carrier),
		"🧭 Status: " + orUnknown(p.Status),
		"⏱️ Updated: " + p.LastUpdated.In(loc).Format("2006-01-02 15:04:05"),
		"📍 Location: " + location,
	}, "\n")
}

// MapEmbedURL returns an OpenStreetMap embed link centred on lat/lng with a
// bounding box of ±delta degrees.
func MapEmbedURL(lat, lng, delta float64) string {
	bbox := strings.Join([]string{
		strconv.FormatFloat(lng-delta, 'f', 6, 64),
		strconv.FormatFloat(lat-delta, 'f', 6, 64),
		strconv.FormatFloat(lng+delta, 'f', 6, 64),
		strconv.FormatFloat(lat+delta, 'f', 6, 64),
	}, ",")
	marker := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
	return "https://www.openstreetmap.org/export/embed.html?bbox=" + url.QueryEscape(bbox) +
		"&layer=mapnik&marker=" + url.QueryEscape(marker)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

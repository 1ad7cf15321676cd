// Package scrape extracts auxiliary track metadata — cover art URL,
// release year, track/disc numbers — from the HTML/XML pages of the
// external music service. All three operations are pure text matches:
// a parse miss is never fatal, it just leaves the field absent.
package scrape

import (
	"regexp"
	"strconv"
	"strings"
)

var coverArtRe = regexp.MustCompile(`id\s*=\s*"album_art"[^"]*"([^"]+)`)

// noAlbumArtMarker is the sentinel filename the service uses for albums
// that have no real cover art.
const noAlbumArtMarker = "no_album_art.jpg"

// ExtractCoverURL returns the first cover-art URL found in an album detail
// page, or false if none was found or the match was the "no art" sentinel.
func ExtractCoverURL(albumHTML string) (string, bool) {
	m := coverArtRe.FindStringSubmatch(albumHTML)
	if m == nil {
		return "", false
	}
	url := m[1]
	if strings.Contains(url, noAlbumArtMarker) {
		return "", false
	}
	return url, true
}

var releaseYearRe = regexp.MustCompile(`class\s*=\s*"release_year"\D*([0-9]{4})`)

// ExtractYear returns the release year from an album detail page, or
// false if it was not found or did not parse as a 4-digit number.
func ExtractYear(albumHTML string) (uint16, bool) {
	m := releaseYearRe.FindStringSubmatch(albumHTML)
	if m == nil {
		return 0, false
	}
	y, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(y), true
}

// titleMetaReplacer neutralizes regex metacharacters in a song title so it
// can be embedded literally into a search pattern: each of the listed
// characters becomes a single '.' wildcard, and '?' is dropped outright.
var titleMetaReplacer = strings.NewReplacer(
	"^", ".", "$", ".", "(", ".", ")", ".", ">", ".", "<", ".",
	"[", ".", "{", ".", `\`, ".", "|", ".", ".", ".", "*", ".", "+", ".", "&", ".",
	"?", "",
)

// ExtractTrackDisc locates the album explorer XML entry for title and
// returns its track and disc numbers. Both numbers are returned together
// or not at all.
func ExtractTrackDisc(title, albumXML string) (track, disc uint16, ok bool) {
	pattern := `songTitle\s*=\s*"` + titleMetaReplacer.Replace(title) + `"[^>]+` +
		`discNum\s*=\s*"([0-9]+)"[^>]+` +
		`trackNum\s*=\s*"([0-9]+)"`

	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, 0, false
	}

	m := re.FindStringSubmatch(albumXML)
	if m == nil {
		return 0, 0, false
	}

	discNum, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	trackNum, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, 0, false
	}

	return uint16(trackNum), uint16(discNum), true
}

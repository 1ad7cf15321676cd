// Package id3tag builds an ID3v2 tag in memory and prepends it to an
// already-written MP3 file without rewriting the audio stream itself.
package id3tag

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bogem/id3v2/v2"
)

const copyBlockSize = 100 * 1024 // 100 KiB

// Tag is the set of metadata fields written to an MP3's ID3v2 header.
type Tag struct {
	Artist string
	Album  string
	Title  string
	Year   uint16 // 0 = omit TDRC
	Track  uint16 // 0 = omit TRCK
	Disc   uint16 // 0 = omit TPOS
	Cover  []byte // nil = omit APIC
}

// build renders the in-memory id3v2.Tag for t. Frames are added in the
// fixed order TPE1, TALB, TIT2, TDRC, TRCK, TPOS, APIC.
func build(t Tag) *id3v2.Tag {
	tag := id3v2.NewEmptyTag()
	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingISO)

	tag.SetArtist(t.Artist)
	tag.SetAlbum(t.Album)
	tag.SetTitle(t.Title)

	if t.Year != 0 {
		tag.AddTextFrame("TDRC", id3v2.EncodingISO, strconv.FormatUint(uint64(t.Year), 10))
	}
	if t.Track != 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingISO, strconv.FormatUint(uint64(t.Track), 10))
	}
	if t.Disc != 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingISO, strconv.FormatUint(uint64(t.Disc), 10))
	}

	if len(t.Cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingISO,
			MimeType:    detectMimeType(t.Cover),
			PictureType: id3v2.PTFrontCover,
			Picture:     t.Cover,
		})
	}

	return tag
}

// detectMimeType identifies a cover image's MIME type from its magic
// bytes. Unknown formats map to the empty string, per spec.
func detectMimeType(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 8 &&
		data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A:
		return "image/png"
	default:
		return ""
	}
}

// WriteTo prepends the rendered tag to the MP3 file at path. The tag is
// rendered twice — once to a null sink to measure its exact size, once into
// a correctly-sized buffer — so that a mismatch surfaces as an error rather
// than a truncated tag. On any failure the temp file is removed and path is
// left untouched.
func WriteTo(path string, t Tag) error {
	tag := build(t)

	size1, err := tag.WriteTo(io.Discard)
	if err != nil {
		return fmt.Errorf("id3tag: measure tag size: %w", err)
	}

	buf := make([]byte, 0, size1)
	w := &sizedBuffer{buf: buf}
	size2, err := tag.WriteTo(w)
	if err != nil {
		return fmt.Errorf("id3tag: render tag: %w", err)
	}
	if size2 != size1 {
		return fmt.Errorf("id3tag: unstable tag size: measured %d, rendered %d", size1, size2)
	}

	audio, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("id3tag: open audio file: %w", err)
	}
	defer audio.Close()

	tmpPath := path + ".tagtmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o664)
	if err != nil {
		return fmt.Errorf("id3tag: create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(w.buf); err != nil {
		return fmt.Errorf("id3tag: write tag to temp file: %w", err)
	}

	block := make([]byte, copyBlockSize)
	if _, err := io.CopyBuffer(tmp, audio, block); err != nil {
		return fmt.Errorf("id3tag: copy audio stream: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("id3tag: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("id3tag: close temp file: %w", err)
	}
	audio.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("id3tag: replace audio file: %w", err)
	}

	return nil
}

// sizedBuffer is an io.Writer that accumulates into a byte slice, used so
// the second WriteTo call can target an exact pre-sized buffer.
type sizedBuffer struct {
	buf []byte
}

func (s *sizedBuffer) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

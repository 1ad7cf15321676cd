package mp4atom

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// metaData is the fixed 4-byte payload of a freshly created meta atom.
var metaData = [4]byte{0x00, 0x00, 0x00, 0x00}

// hdlrData is the fixed 25-byte payload of a freshly created hdlr atom: an
// 8-byte zeroed prefix, the "mdirappl" handler type, and 9 more zero bytes.
var hdlrData = [25]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	'm', 'd', 'i', 'r', 'a', 'p', 'p', 'l',
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var nullData = [4]byte{0x00, 0x00, 0x00, 0x00}

// class bytes for each iTunes metadata atom's nested data atom. Text atoms
// use class 1 (UTF-8), the cover atom uses class 0x15 (JPEG/PNG image), and
// the two-integer-pair atoms (trkn, disk) use class 0.
var (
	classText  = [4]byte{0x00, 0x00, 0x00, 0x01}
	classImage = [4]byte{0x00, 0x00, 0x00, 0x15}
	classUint  = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// Tag is an open MP4 file's moov atom tree, ready to have iTunes-style
// metadata atoms added to it and written back out. A Tag must be closed
// with Close once it is no longer needed, successfully written or not.
type Tag struct {
	path string
	file *os.File
	moov *Atom
}

// Open reads path's ftyp and moov atoms. The file must start with an ftyp
// atom immediately followed by a single moov atom; anything else, or any
// atom this package doesn't recognize inside moov, is an error. A moov
// whose sample table uses 64-bit chunk offsets is rejected with
// ErrUnsupportedOffsetTable, since this package does not know how to keep
// a co64 table's offsets in sync once moov's size changes.
func Open(path string) (*Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp4atom: open: %w", err)
	}

	moov, err := openMoov(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	tag := &Tag{path: path, file: f, moov: moov}

	if _, ok := tag.FindAtom("moov.trak.mdia.minf.stbl.co64"); ok {
		f.Close()
		return nil, ErrUnsupportedOffsetTable
	}

	return tag, nil
}

func openMoov(f *os.File) (*Atom, error) {
	var header [minAtomLen]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("mp4atom: read ftyp header: %w", err)
	}
	size := int64(binary.BigEndian.Uint32(header[:sizeFieldLen]))
	if string(header[sizeFieldLen:]) != "ftyp" {
		return nil, ErrNotFtyp
	}
	if _, err := f.Seek(size-minAtomLen, io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("mp4atom: seek past ftyp: %w", err)
	}

	moov, err := parseAtom(f)
	if err != nil {
		return nil, err
	}
	if moov.Name != "moov" {
		return nil, ErrNotMoov
	}
	return moov, nil
}

// Close releases the Tag's open file handle.
func (t *Tag) Close() error {
	return t.file.Close()
}

// FindAtom resolves a dot-separated path of atom names, starting at moov,
// to the atom it names.
func (t *Tag) FindAtom(path string) (*Atom, bool) {
	parts := strings.Split(path, ".")
	if parts[0] != t.moov.Name {
		return nil, false
	}
	atom := t.moov
	for _, name := range parts[1:] {
		child := findChild(atom, name)
		if child == nil {
			return nil, false
		}
		atom = child
	}
	return atom, true
}

func findChild(atom *Atom, name string) *Atom {
	for _, c := range atom.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// addAtom attaches atom under the atom named by parentPath (a dotted path
// rooted at moov), then always pushes atom's size as a delta through the
// stco chunk-offset table so every sample offset that now falls after the
// insertion point stays correct.
func (t *Tag) addAtom(parentPath string, atom *Atom) error {
	parent, ok := t.FindAtom(parentPath)
	if !ok {
		return fmt.Errorf("mp4atom: add %s: %w: %s", atom.Name, ErrNotFound, parentPath)
	}
	parent.addChild(atom)
	return t.updateChunkOffsets(atom.Size)
}

// updateChunkOffsets adds delta to every entry of the stco chunk-offset
// table, if the file has one. stco's data is version/flags (4 bytes),
// entry count (4 bytes), then one 32-bit offset per entry.
func (t *Tag) updateChunkOffsets(delta int64) error {
	stco, ok := t.FindAtom("moov.trak.mdia.minf.stbl.stco")
	if !ok {
		return nil
	}
	if err := stco.materialize(t.file); err != nil {
		return err
	}
	if len(stco.data) < 8 {
		return fmt.Errorf("mp4atom: stco data too short (%d bytes)", len(stco.data))
	}

	count := binary.BigEndian.Uint32(stco.data[4:8])
	pos := 8
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(stco.data) {
			return fmt.Errorf("mp4atom: stco entry count %d exceeds data length", count)
		}
		offset := int64(binary.BigEndian.Uint32(stco.data[pos:pos+4])) + delta
		binary.BigEndian.PutUint32(stco.data[pos:pos+4], uint32(offset))
		pos += 4
	}
	return nil
}

// addMetaAtom creates (once, lazily) the moov.udta.meta chain, with hdlr and
// ilst as sibling children of meta, and
// appends a new iTunes metadata atom under ilst holding a single data child
// atom of class, followed by the four reserved null bytes and then value.
func (t *Tag) addMetaAtom(name string, class [4]byte, value []byte) error {
	if _, ok := t.FindAtom("moov.udta.meta.ilst"); !ok {
		if _, ok := t.FindAtom("moov.udta"); !ok {
			if err := t.addAtom("moov", newAtom("udta", -1)); err != nil {
				return err
			}
		}
		if _, ok := t.FindAtom("moov.udta.meta"); !ok {
			meta := newAtom("meta", -1)
			if err := meta.appendData(t.file, metaData[:]); err != nil {
				return err
			}
			if err := t.addAtom("moov.udta", meta); err != nil {
				return err
			}
		}
		if _, ok := t.FindAtom("moov.udta.meta.hdlr"); !ok {
			hdlr := newAtom("hdlr", -1)
			if err := hdlr.appendData(t.file, hdlrData[:]); err != nil {
				return err
			}
			if err := t.addAtom("moov.udta.meta", hdlr); err != nil {
				return err
			}
		}
		if err := t.addAtom("moov.udta.meta", newAtom("ilst", -1)); err != nil {
			return err
		}
	}

	metaAtom := newAtom(name, -1)
	dataAtom := newAtom("data", -1)
	if err := dataAtom.appendData(t.file, class[:]); err != nil {
		return err
	}
	if err := dataAtom.appendData(t.file, nullData[:]); err != nil {
		return err
	}
	if err := dataAtom.appendData(t.file, value); err != nil {
		return err
	}
	metaAtom.addChild(dataAtom)

	return t.addAtom("moov.udta.meta.ilst", metaAtom)
}

// AddAlbum adds an album-name atom. Must not be called more than once per
// Tag: a second call adds a second album atom rather than replacing the
// first.
func (t *Tag) AddAlbum(album string) error {
	return t.addMetaAtom("\251alb", classText, []byte(album))
}

// AddArtist adds an artist-name atom. See AddAlbum for the add-once caveat.
func (t *Tag) AddArtist(artist string) error {
	return t.addMetaAtom("\251ART", classText, []byte(artist))
}

// AddTitle adds a track-title atom. See AddAlbum for the add-once caveat.
func (t *Tag) AddTitle(title string) error {
	return t.addMetaAtom("\251nam", classText, []byte(title))
}

// AddYear adds a release-year atom, rendered as its decimal digits. See
// AddAlbum for the add-once caveat.
func (t *Tag) AddYear(year uint16) error {
	return t.addMetaAtom("\251day", classText, []byte(strconv.FormatUint(uint64(year), 10)))
}

// AddCoverArt embeds cover art. See AddAlbum for the add-once caveat.
func (t *Tag) AddCoverArt(image []byte) error {
	return t.addMetaAtom("covr", classImage, image)
}

// AddTrack adds a track-number atom. trkn's data is an 8-byte struct: 2
// reserved bytes, the 16-bit track number, 2 bytes for a total-tracks count
// this package never sets, and 2 trailing reserved bytes. See AddAlbum for
// the add-once caveat.
func (t *Tag) AddTrack(track uint16) error {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[2:4], track)
	return t.addMetaAtom("trkn", classUint, buf[:])
}

// AddDisc adds a disc-number atom, laid out the same way as AddTrack. See
// AddAlbum for the add-once caveat.
func (t *Tag) AddDisc(disc uint16) error {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[2:4], disc)
	return t.addMetaAtom("disk", classUint, buf[:])
}

// Write renders the edited moov atom and rewrites the file in place: the
// bytes before and after the original moov atom are streamed through
// unchanged, and only moov itself is re-rendered. The original on-disk
// moov size (not the grown in-memory size) determines where the
// unmodified trailing bytes begin. The file is replaced atomically via a
// temp file in the same directory followed by a rename.
func (t *Tag) Write() error {
	var sizeBuf [sizeFieldLen]byte
	if _, err := t.file.ReadAt(sizeBuf[:], t.moov.Offset); err != nil {
		return fmt.Errorf("mp4atom: read original moov size: %w", err)
	}
	originalMoovSize := int64(binary.BigEndian.Uint32(sizeBuf[:]))
	trailerStart := t.moov.Offset + originalMoovSize

	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("mp4atom: stat: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".mp4tag-*.tmp")
	if err != nil {
		return fmt.Errorf("mp4atom: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmp, io.NewSectionReader(t.file, 0, t.moov.Offset)); err != nil {
		return fmt.Errorf("mp4atom: copy header: %w", err)
	}

	if err := t.moov.render(t.file, tmp); err != nil {
		return err
	}

	trailerLen := info.Size() - trailerStart
	if trailerLen > 0 {
		if _, err := io.Copy(tmp, io.NewSectionReader(t.file, trailerStart, trailerLen)); err != nil {
			return fmt.Errorf("mp4atom: copy trailer: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("mp4atom: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mp4atom: close temp file: %w", err)
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("mp4atom: close source file: %w", err)
	}

	if err := os.Rename(tmpPath, t.path); err != nil {
		t.file, _ = os.Open(t.path)
		return fmt.Errorf("mp4atom: replace file: %w", err)
	}

	t.file, err = os.Open(t.path)
	if err != nil {
		return fmt.Errorf("mp4atom: reopen written file: %w", err)
	}
	return nil
}

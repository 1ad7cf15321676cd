package mp4atom

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawAtom renders one atom: a 4-byte big-endian size, the 4-byte name, and
// data verbatim.
func rawAtom(name string, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(8+len(data)))
	copy(buf[4:8], name)
	copy(buf[8:], data)
	return buf
}

// rawContainer renders an atom whose data is the concatenation of its
// children's full bytes.
func rawContainer(name string, children ...[]byte) []byte {
	var data []byte
	for _, c := range children {
		data = append(data, c...)
	}
	return rawAtom(name, data)
}

// buildMP4 assembles a minimal ftyp + moov(trak/mdia/minf/stbl/<offsetAtom>)
// file, followed by trailer bytes standing in for mdat, and writes it to a
// temp file. It returns the path and the trailer bytes for comparison.
func buildMP4(t *testing.T, offsetAtomName string, offsets []uint32) (string, []byte) {
	t.Helper()

	ftyp := rawAtom("ftyp", []byte("isom\x00\x00\x02\x00iso2")) // 12 bytes of data -> 20-byte atom

	offsetData := make([]byte, 8+4*len(offsets))
	binary.BigEndian.PutUint32(offsetData[4:8], uint32(len(offsets)))
	for i, off := range offsets {
		binary.BigEndian.PutUint32(offsetData[8+4*i:12+4*i], off)
	}
	offsetAtom := rawAtom(offsetAtomName, offsetData)

	stbl := rawContainer("stbl", offsetAtom)
	minf := rawContainer("minf", stbl)
	mdia := rawContainer("mdia", minf)
	trak := rawContainer("trak", mdia)
	moov := rawContainer("moov", trak)

	trailer := []byte("MDATMDATMDATMDATMDAT")

	var file []byte
	file = append(file, ftyp...)
	file = append(file, moov...)
	file = append(file, trailer...)

	path := filepath.Join(t.TempDir(), "track.m4a")
	require.NoError(t, os.WriteFile(path, file, 0o644))
	return path, trailer
}

func stcoEntries(t *testing.T, data []byte) []uint32 {
	t.Helper()
	idx := bytes.Index(data, []byte("stco"))
	require.NotEqual(t, -1, idx, "stco atom not found")
	// idx points at the name; the atom header started 4 bytes earlier.
	atomStart := idx - 4
	size := binary.BigEndian.Uint32(data[atomStart : atomStart+4])
	atomData := data[atomStart+8 : atomStart+int(size)]
	count := binary.BigEndian.Uint32(atomData[4:8])
	entries := make([]uint32, count)
	for i := range entries {
		entries[i] = binary.BigEndian.Uint32(atomData[8+4*i : 12+4*i])
	}
	return entries
}

func TestOpen_RejectsNonFtypFirstAtom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.m4a")
	require.NoError(t, os.WriteFile(path, rawAtom("moov", nil), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrNotFtyp)
}

func TestOpen_RejectsUnknownAtom(t *testing.T) {
	ftyp := rawAtom("ftyp", []byte("isom"))
	unknown := rawContainer("moov", rawAtom("zzzz", []byte("junk")))

	path := filepath.Join(t.TempDir(), "bad.m4a")
	require.NoError(t, os.WriteFile(path, append(ftyp, unknown...), 0o644))

	_, err := Open(path)
	var target ErrUnknownAtom
	assert.ErrorAs(t, err, &target)
	assert.Equal(t, "zzzz", target.Name)
}

func TestOpen_RejectsCo64OffsetTable(t *testing.T) {
	path, _ := buildMP4(t, "co64", []uint32{500})

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrUnsupportedOffsetTable)
}

func TestAddArtist_GrowsMoovAndFixesUpStco(t *testing.T) {
	path, trailer := buildMP4(t, "stco", []uint32{500, 900})

	tag, err := Open(path)
	require.NoError(t, err)
	defer tag.Close()

	require.NoError(t, tag.AddArtist("Boards of Canada"))
	require.NoError(t, tag.Write())

	out, err := os.ReadFile(path)
	require.NoError(t, err)

	// The trailer, copied unchanged from the original file, must still be
	// at the tail, exactly reproduced.
	assert.Equal(t, trailer, out[len(out)-len(trailer):])

	// moov's on-disk size field must match the tail-minus-trailer minus
	// the 20-byte ftyp header — i.e. the whole file accounts for its
	// declared atom sizes with no slack or overlap.
	moovSize := binary.BigEndian.Uint32(out[20:24])
	assert.EqualValues(t, len(out)-len(trailer)-20, moovSize)

	entries := stcoEntries(t, out)
	require.Len(t, entries, 2)
	delta := moovSize - 64 // 64 is the original moov size built by buildMP4
	assert.EqualValues(t, 500+delta, entries[0])
	assert.EqualValues(t, 900+delta, entries[1])

	assert.True(t, bytes.Contains(out, []byte("\xA9ART")))
	assert.True(t, bytes.Contains(out, []byte("Boards of Canada")))
}

func TestAddTrack_EncodesAsTwoReservedPairs(t *testing.T) {
	path, _ := buildMP4(t, "stco", []uint32{100})

	tag, err := Open(path)
	require.NoError(t, err)
	defer tag.Close()
	require.NoError(t, tag.AddTrack(7))
	require.NoError(t, tag.Write())

	out, err := os.ReadFile(path)
	require.NoError(t, err)

	idx := bytes.Index(out, []byte("trkn"))
	require.NotEqual(t, -1, idx)
	dataIdx := bytes.Index(out[idx:], []byte("data"))
	require.NotEqual(t, -1, dataIdx)
	// dataIdx locates "data"'s name field, 4 bytes into its 8-byte header;
	// the value follows the header, a 4-byte class, and 4 reserved bytes.
	valueStart := idx + dataIdx - 4 + 8 + 4 + 4
	value := out[valueStart : valueStart+8]
	assert.Equal(t, []byte{0, 0, 0, 7, 0, 0, 0, 0}, value)
}

func TestAddAlbum_CalledTwiceAddsTwoAtoms(t *testing.T) {
	path, _ := buildMP4(t, "stco", []uint32{100})

	tag, err := Open(path)
	require.NoError(t, err)
	defer tag.Close()
	require.NoError(t, tag.AddAlbum("First"))
	require.NoError(t, tag.AddAlbum("Second"))
	require.NoError(t, tag.Write())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte("First")))
	assert.True(t, bytes.Contains(out, []byte("Second")))
}

func TestFindAtom_ResolvesDottedPath(t *testing.T) {
	path, _ := buildMP4(t, "stco", []uint32{42})
	tag, err := Open(path)
	require.NoError(t, err)
	defer tag.Close()

	stco, ok := tag.FindAtom("moov.trak.mdia.minf.stbl.stco")
	require.True(t, ok)
	assert.Equal(t, "stco", stco.Name)

	_, ok = tag.FindAtom("moov.trak.nonexistent")
	assert.False(t, ok)
}

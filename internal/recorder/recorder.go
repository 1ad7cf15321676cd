// Package recorder composes path building, atomic file creation, page
// scraping, fetching, and tag writing into the per-song lifecycle a
// streaming client drives while a track plays: open a file for the song
// about to play, append audio bytes as they arrive, and once playback
// finishes successfully, tag the file and close it — or, if playback was
// interrupted, close without tagging and delete whatever was written.
package recorder

import (
	"context"
	"fmt"

	"github.com/andrz/waves/internal/mp4atom"
	"github.com/andrz/waves/internal/recorder/fetch"
	"github.com/andrz/waves/internal/recorder/id3tag"
	"github.com/andrz/waves/internal/recorder/pathbuild"
	"github.com/andrz/waves/internal/recorder/rlog"
	"github.com/andrz/waves/internal/recorder/scrape"
	"github.com/andrz/waves/internal/recorder/sink"
)

// Config controls how the recorder names and writes files.
type Config struct {
	Root       string // recording root, see sink.New
	Template   string // path template, see pathbuild.Render
	UseSpaces  bool
	EmbedCover bool
}

// Recorder is the process-wide entry point: one Recorder, backed by one
// Sink and one Fetcher, is created at startup and used for every song.
type Recorder struct {
	cfg     Config
	sink    *sink.Sink
	fetcher fetch.Fetcher
	log     rlog.Logger
}

// New returns a Recorder. fetcher is typically a *fetch.HTTPFetcher built
// once at startup; logger may be rlog.Discard{} if the caller doesn't want
// recorder diagnostics.
func New(cfg Config, fetcher fetch.Fetcher, logger rlog.Logger) *Recorder {
	return &Recorder{
		cfg:     cfg,
		sink:    sink.New(cfg.Root),
		fetcher: fetcher,
		log:     logger,
	}
}

// SongRequest describes the track about to be recorded.
type SongRequest struct {
	Artist           string
	Album            string
	Title            string
	Format           pathbuild.Format
	AlbumDetailURL   string // page holding release year + cover art URL
	AlbumExplorerURL string // page holding track/disc numbers
}

// Session is one song's recording-and-tagging lifecycle.
type Session struct {
	r        *Recorder
	status   Status
	complete bool
	handle   *sink.Handle
	req      SongRequest
	year     uint16
	track    uint16
	disc     uint16
	coverURL string
}

// Status reports the session's current lifecycle state.
func (s *Session) Status() Status { return s.status }

// Path returns the on-disk path of the file being recorded, once Open has
// succeeded.
func (s *Session) Path() string {
	if s.handle == nil {
		return ""
	}
	return s.handle.Path()
}

// Open fetches the track's auxiliary metadata (best-effort — a fetch or
// parse failure just leaves that field absent, it never fails Open),
// builds the destination path, and creates the file. If the file already
// exists, Open succeeds with a session in StatusNotRecordingExists and no
// open handle; the caller should treat this as "already recorded" and
// call Close without ever calling Write or Tag.
func (r *Recorder) Open(ctx context.Context, req SongRequest) (*Session, error) {
	s := &Session{r: r, req: req, status: StatusNotRecording}

	if detail, err := r.fetcher.Fetch(ctx, req.AlbumDetailURL); err != nil {
		r.log.Debugf("recorder: fetch album detail page: %v", err)
	} else {
		html := string(detail)
		if year, ok := scrape.ExtractYear(html); ok {
			s.year = year
		} else {
			r.log.Debugf("recorder: no release year found for %q", req.Album)
		}
		if url, ok := scrape.ExtractCoverURL(html); ok {
			s.coverURL = url
		} else {
			r.log.Debugf("recorder: no cover art found for %q", req.Album)
		}
	}

	if explorer, err := r.fetcher.Fetch(ctx, req.AlbumExplorerURL); err != nil {
		r.log.Debugf("recorder: fetch album explorer page: %v", err)
	} else if track, disc, ok := scrape.ExtractTrackDisc(req.Title, string(explorer)); ok {
		s.track, s.disc = track, disc
	} else {
		r.log.Debugf("recorder: no track/disc numbers found for %q", req.Title)
	}

	path, err := pathbuild.Render(pathbuild.Metadata{
		Artist: req.Artist,
		Album:  req.Album,
		Title:  req.Title,
		Year:   s.year,
		Track:  s.track,
		Disc:   s.disc,
	}, req.Format, r.cfg.Template, r.cfg.UseSpaces)
	if err != nil {
		return nil, fmt.Errorf("recorder: build path: %w", err)
	}

	handle, err := r.sink.OpenNew(path)
	switch {
	case err == nil:
		s.handle = handle
		s.status = StatusRecording
		return s, nil
	case err == sink.ErrAlreadyExists:
		s.status = StatusNotRecordingExists
		s.complete = true
		return s, nil
	default:
		s.complete = true
		return nil, fmt.Errorf("recorder: open audio file: %w", err)
	}
}

// Write appends audio bytes to the session's file. It is a no-op once the
// session is complete (tagged, or opened against an already-existing
// file).
func (s *Session) Write(b []byte) error {
	if s.complete {
		return nil
	}
	return s.handle.Append(b)
}

// Tag writes the collected metadata into the audio file's tag and marks
// the session complete. It must be called at most once, after the last
// Write and before Close. Tagging is skipped (without error) if the
// session completed some other way already.
func (s *Session) Tag(ctx context.Context) error {
	if s.complete {
		return nil
	}
	s.status = StatusTagging

	var cover []byte
	if s.r.cfg.EmbedCover && s.coverURL != "" {
		data, err := s.r.fetcher.Fetch(ctx, s.coverURL)
		if err != nil {
			s.r.log.Debugf("recorder: fetch cover art: %v", err)
		} else {
			cover = data
		}
	}

	var err error
	switch s.req.Format {
	case pathbuild.FormatMP3, pathbuild.FormatMP3HI:
		err = id3tag.WriteTo(s.handle.Path(), id3tag.Tag{
			Artist: s.req.Artist,
			Album:  s.req.Album,
			Title:  s.req.Title,
			Year:   s.year,
			Track:  s.track,
			Disc:   s.disc,
			Cover:  cover,
		})
	case pathbuild.FormatAAC:
		err = s.writeMP4Tag(cover)
	default:
		err = pathbuild.ErrUnsupportedFormat{Format: s.req.Format}
	}

	s.complete = true
	if err != nil {
		s.r.log.Errorf("recorder: tag %s: %v", s.handle.Path(), err)
		return fmt.Errorf("recorder: tag: %w", err)
	}
	return nil
}

func (s *Session) writeMP4Tag(cover []byte) error {
	tag, err := mp4atom.Open(s.handle.Path())
	if err != nil {
		return err
	}
	defer tag.Close()

	if err := tag.AddArtist(s.req.Artist); err != nil {
		return err
	}
	if err := tag.AddAlbum(s.req.Album); err != nil {
		return err
	}
	if err := tag.AddTitle(s.req.Title); err != nil {
		return err
	}
	if s.year != 0 {
		if err := tag.AddYear(s.year); err != nil {
			return err
		}
	}
	if s.track != 0 {
		if err := tag.AddTrack(s.track); err != nil {
			return err
		}
	}
	if s.disc != 0 {
		if err := tag.AddDisc(s.disc); err != nil {
			return err
		}
	}
	if len(cover) > 0 {
		if err := tag.AddCoverArt(cover); err != nil {
			return err
		}
	}
	return tag.Write()
}

// Close releases the session's file handle. If the session never
// completed (Tag was never called, and the file didn't already exist),
// the partially written file and any now-empty parent directories it
// leaves behind are deleted.
func (s *Session) Close() error {
	if s.handle == nil {
		return nil
	}

	path := s.handle.Path()
	closeErr := s.handle.Close()

	if !s.complete {
		s.status = StatusDeleting
		if err := s.r.sink.DeleteWithEmptyParents(path); err != nil {
			s.r.log.Errorf("recorder: delete incomplete file %s: %v", path, err)
			if closeErr == nil {
				return fmt.Errorf("recorder: delete incomplete file: %w", err)
			}
		}
		s.complete = true
	}

	if closeErr != nil {
		return fmt.Errorf("recorder: close audio file: %w", closeErr)
	}
	return nil
}

// recorderdemo drives one recording session end to end: it streams an
// existing audio file through the recorder as if it were arriving live
// from a player, then tags and closes it. Useful for exercising the
// recorder package against a real file without a full playback session.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/andrz/waves/internal/recorder"
	"github.com/andrz/waves/internal/recorder/fetch"
	"github.com/andrz/waves/internal/recorder/pathbuild"
	"github.com/andrz/waves/internal/recorder/rconfig"
	"github.com/andrz/waves/internal/recorder/rlog"
)

func main() {
	configPath := flag.String("config", "recorder.toml", "path to the recorder's config file")
	input := flag.String("in", "", "audio file to stream through the recorder")
	artist := flag.String("artist", "", "track artist")
	album := flag.String("album", "", "track album")
	title := flag.String("title", "", "track title")
	aac := flag.Bool("aac", false, "treat the input as AAC/MP4 instead of MP3")
	detailURL := flag.String("detail-url", "", "album detail page URL (cover art, year)")
	explorerURL := flag.String("explorer-url", "", "album explorer page URL (track/disc numbers)")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Parse()

	if *input == "" || *artist == "" || *album == "" || *title == "" {
		log.Fatal("-in, -artist, -album, and -title are required")
	}

	cfg, err := rconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	fetcher, err := fetch.New(cfg.EffectiveProxy())
	if err != nil {
		log.Fatalf("create fetcher: %v", err)
	}

	logger := rlog.Stderr{Verbose: *verbose}
	rec := recorder.New(recorder.Config{
		Root:       cfg.AudioFileDir,
		Template:   cfg.AudioFileName,
		UseSpaces:  cfg.UseSpaces,
		EmbedCover: cfg.EmbedCover,
	}, fetcher, logger)

	format := pathbuild.FormatMP3
	if *aac {
		format = pathbuild.FormatAAC
	}

	ctx := context.Background()
	session, err := rec.Open(ctx, recorder.SongRequest{
		Artist:           *artist,
		Album:            *album,
		Title:            *title,
		Format:           format,
		AlbumDetailURL:   *detailURL,
		AlbumExplorerURL: *explorerURL,
	})
	if err != nil {
		log.Fatalf("open session: %v", err)
	}

	log.Printf("status: %s", session.Status())

	if session.Status().IsOpenForWrite() {
		if err := streamFile(session, *input); err != nil {
			session.Close()
			log.Fatalf("stream audio: %v", err)
		}

		if err := session.Tag(ctx); err != nil {
			log.Printf("tag: %v", err)
		}
	}

	if err := session.Close(); err != nil {
		log.Fatalf("close session: %v", err)
	}

	log.Printf("wrote %s", session.Path())
}

func streamFile(session interface{ Write([]byte) error }, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := session.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

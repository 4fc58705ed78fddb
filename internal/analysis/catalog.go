package analysis

import (
	"context"
	"log"

	"github.com/simonmoedinger/aitab/internal/assistant"
	"github.com/simonmoedinger/aitab/internal/telemetry"
)

// FileFetcher resolves file metadata on the assistant service.
type FileFetcher interface {
	RetrieveFile(ctx context.Context, fileID string) (assistant.File, error)
}

// Catalog resolves cited files to display metadata and keeps duplicate
// entries off the user's file list. Numbers come from the session's
// registry, so they always agree with what ResolveAnnotations put into
// the text.
type Catalog struct {
	files  FileFetcher
	cache  *FileCache
	tele   *telemetry.Telemetry
	logger *log.Logger
}

// NewCatalog creates a catalog. cache may be nil; tele may be nil.
func NewCatalog(files FileFetcher, cache *FileCache, tele *telemetry.Telemetry, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.New(log.Writer(), "[CATALOG] ", log.LstdFlags)
	}
	return &Catalog{files: files, cache: cache, tele: tele, logger: logger}
}

// Resolve turns one response's annotations into the delta of newly
// displayed files and commits it to the session. If any metadata lookup
// fails, the whole delta for this response is empty: citation numbers in
// the text stay valid, the names are simply not added. A lookup failure
// must never block display of the analysis text, so no error is returned.
func (c *Catalog) Resolve(ctx context.Context, sess *Session, annotations []assistant.Annotation) []DisplayedFile {
	var delta []DisplayedFile
	seenInDelta := make(map[string]bool)

	for _, ann := range annotations {
		fileID := ann.FileID()
		if fileID == "" {
			continue
		}
		number := sess.Registry().NumberFor(fileID)

		name, err := c.displayName(ctx, fileID)
		if err != nil {
			c.logger.Printf("file lookup failed for %s: %v", fileID, err)
			c.tele.RecordFileLookup("error")
			return nil
		}
		if name == "" || sess.seenName(name) || seenInDelta[name] {
			continue
		}
		seenInDelta[name] = true
		delta = append(delta, DisplayedFile{FileID: fileID, Name: name, Citation: number})
	}

	sess.appendFiles(delta)
	return delta
}

func (c *Catalog) displayName(ctx context.Context, fileID string) (string, error) {
	if c.cache != nil {
		if name, ok := c.cache.Get(ctx, fileID); ok {
			c.tele.RecordFileLookup("hit")
			return name, nil
		}
	}
	f, err := c.files.RetrieveFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	c.tele.RecordFileLookup("miss")
	if c.cache != nil {
		c.cache.Set(ctx, fileID, f.Filename)
	}
	return f.Filename, nil
}

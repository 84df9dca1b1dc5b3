package tasks

import (
	"fmt"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/task"
)

const (
	// Bucket is the object store location the pipeline writes to.
	Bucket = "s3://mybucket"

	// ChunkCount is how many chunks chunkenize produces per document.
	ChunkCount = 5
)

// Source types of a document reference.
const (
	SourceURL    = "url"
	SourceObject = "s3.object"
	SourceFolder = "s3.folder"
)

// Document references one artifact of the pipeline.
type Document struct {
	UID        string `json:"uid"`
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
}

// NewUID returns a fresh document uid.
func NewUID() string {
	return ulid.Make().String()
}

func bindDocument(args []any, kwargs map[string]any) (Document, error) {
	v, err := task.Strings(args, kwargs, "uid", "source", "source_type")
	if err != nil {
		return Document{}, err
	}
	return Document{UID: v[0], Source: v[1], SourceType: v[2]}, nil
}

// split returns the file name and its name without extension.
func split(source string) (string, string) {
	file := path.Base(source)
	return file, strings.TrimSuffix(file, path.Ext(file))
}

func objectPath(uid, stage, base, file string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", Bucket, uid, stage, base, file)
}

// download stores the source under the document's downloads prefix. An
// empty uid is assigned a new one.
func download(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	doc, err := bindDocument(args, kwargs)
	if err != nil {
		return nil, err
	}
	if doc.UID == "" {
		doc.UID = NewUID()
	}

	file := doc.Source
	if doc.SourceType == SourceURL || doc.SourceType == SourceObject {
		file = path.Base(doc.Source)
	}
	_, base := split(file)

	tc.Logger.Info("downloading document",
		zap.String("uid", doc.UID),
		zap.String("source", doc.Source))

	return Document{
		UID:        doc.UID,
		Source:     objectPath(doc.UID, "downloads", base, file),
		SourceType: SourceObject,
	}, nil
}

func extract(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	doc, err := bindDocument(args, kwargs)
	if err != nil {
		return nil, err
	}
	_, base := split(doc.Source)
	tc.Logger.Info("extracting text", zap.String("uid", doc.UID))

	return Document{
		UID:        doc.UID,
		Source:     objectPath(doc.UID, "extractions", base, base+".txt"),
		SourceType: SourceObject,
	}, nil
}

func chunkenize(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	doc, err := bindDocument(args, kwargs)
	if err != nil {
		return nil, err
	}
	_, base := split(doc.Source)
	tc.Logger.Info("chunking document", zap.String("uid", doc.UID), zap.Int("chunks", ChunkCount))

	chunks := make([]Document, ChunkCount)
	for i := range chunks {
		chunks[i] = Document{
			UID:        doc.UID,
			Source:     objectPath(doc.UID, "chunks", base, fmt.Sprintf("chunk_%d.txt", i)),
			SourceType: SourceFolder,
		}
	}
	return chunks, nil
}

func embedding(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	doc, err := bindDocument(args, kwargs)
	if err != nil {
		return nil, err
	}
	_, base := split(doc.Source)
	tc.Logger.Info("embedding document", zap.String("uid", doc.UID))

	return []Document{{
		UID:        doc.UID,
		Source:     objectPath(doc.UID, "embeddings", base, "embedding_n.json"),
		SourceType: SourceFolder,
	}}, nil
}

func registerPipeline(reg *task.Registry, _ Deps) error {
	handlers := map[string]task.Handler{
		"download":   download,
		"extract":    extract,
		"chunkenize": chunkenize,
		"embedding":  embedding,
	}
	for name, h := range handlers {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

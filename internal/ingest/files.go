package ingest

import (
	"context"
	"errors"
	"path"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// ErrUnsupportedExtension is returned by DetectFileType for extensions outside
// the accepted set.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

var extensionTypes = map[string]domain.FileType{
	".pdf":  domain.FileTypeDocument,
	".docx": domain.FileTypeDocument,
	".doc":  domain.FileTypeDocument,
	".txt":  domain.FileTypeDocument,
	".jpg":  domain.FileTypeImage,
	".jpeg": domain.FileTypeImage,
	".png":  domain.FileTypeImage,
	".mp3":  domain.FileTypeAudio,
	".wav":  domain.FileTypeAudio,
	".m4a":  domain.FileTypeAudio,
}

// Ext returns the lowercased extension of name, including the dot. A Caser
// holds state, so one is built per call.
func Ext(name string) string {
	return cases.Lower(language.Und).String(path.Ext(name))
}

// DetectFileType maps a file name to its coarse type by extension.
func DetectFileType(name string) (domain.FileType, error) {
	if ft, ok := extensionTypes[Ext(name)]; ok {
		return ft, nil
	}
	return "", ErrUnsupportedExtension
}

// File is a stored upload ready for extraction. The set of variants is
// closed: DocumentFile, ImageFile, AudioFile and TextFile. Each variant
// dispatches to its own handler method, so a new variant does not compile
// until every handler covers it.
type File interface {
	// Key is the storage key of the file's bytes.
	Key() string
	// Name is the original base name, used for extension and MIME decisions.
	Name() string

	accept(ctx context.Context, h handler) (string, error)
}

type handler interface {
	document(ctx context.Context, f DocumentFile) (string, error)
	image(ctx context.Context, f ImageFile) (string, error)
	audio(ctx context.Context, f AudioFile) (string, error)
	text(ctx context.Context, f TextFile) (string, error)
}

type fileRef struct {
	key  string
	name string
}

func (r fileRef) Key() string  { return r.key }
func (r fileRef) Name() string { return r.name }

// DocumentFile is a PDF or Word document.
type DocumentFile struct{ fileRef }

// ImageFile is a JPEG or PNG image.
type ImageFile struct{ fileRef }

// AudioFile is an MP3, WAV or M4A recording.
type AudioFile struct{ fileRef }

// TextFile is a plain-text document read as-is.
type TextFile struct{ fileRef }

func (f DocumentFile) accept(ctx context.Context, h handler) (string, error) { return h.document(ctx, f) }
func (f ImageFile) accept(ctx context.Context, h handler) (string, error)    { return h.image(ctx, f) }
func (f AudioFile) accept(ctx context.Context, h handler) (string, error)    { return h.audio(ctx, f) }
func (f TextFile) accept(ctx context.Context, h handler) (string, error)     { return h.text(ctx, f) }

// NewFile builds the variant for a stored file. A document whose extension
// is .txt becomes a TextFile.
func NewFile(fileType domain.FileType, key, name string) (File, error) {
	ref := fileRef{key: key, name: name}
	switch fileType {
	case domain.FileTypeDocument:
		if Ext(name) == ".txt" {
			return TextFile{ref}, nil
		}
		return DocumentFile{ref}, nil
	case domain.FileTypeImage:
		return ImageFile{ref}, nil
	case domain.FileTypeAudio:
		return AudioFile{ref}, nil
	}
	return nil, ErrUnsupportedExtension
}

package gdrive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// chunkSize is the resumable upload chunk size. Drive requires a multiple of 256 KiB.
const chunkSize = 1 << 27

const mimeType = "application/octet-stream"

// api is the part of the Drive service the uploader uses.
type api interface {
	// FindFile reports whether a non-trashed file named name exists in the parent folder.
	FindFile(ctx context.Context, parentID, name string) (bool, error)
	About(ctx context.Context) (*drive.About, error)
	Create(ctx context.Context, file *drive.File, media io.Reader, progress googleapi.ProgressUpdater) (*drive.File, error)
}

type serviceAPI struct {
	service *drive.Service
}

func searchQuery(parentID, name string) string {
	escape := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return fmt.Sprintf("trashed = false and name = '%s' and '%s' in parents", escape.Replace(name), escape.Replace(parentID))
}

func (s serviceAPI) FindFile(ctx context.Context, parentID, name string) (bool, error) {
	list, err := s.service.Files.List().
		Q(searchQuery(parentID, name)).
		Spaces("drive").
		Corpora("allDrives").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields("incompleteSearch", "files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("search for %s: %w", name, err)
	}

	if len(list.Files) > 0 {
		return true, nil
	}
	if list.IncompleteSearch {
		return false, fmt.Errorf("unable to determine if %s already exists: incomplete search", name)
	}
	return false, nil
}

func (s serviceAPI) About(ctx context.Context) (*drive.About, error) {
	return s.service.About.Get().Fields("maxUploadSize", "storageQuota").Context(ctx).Do()
}

func (s serviceAPI) Create(ctx context.Context, file *drive.File, media io.Reader, progress googleapi.ProgressUpdater) (*drive.File, error) {
	return s.service.Files.Create(file).
		SupportsAllDrives(true).
		KeepRevisionForever(false).
		UseContentAsIndexableText(false).
		IgnoreDefaultVisibility(false).
		Media(media, googleapi.ChunkSize(chunkSize), googleapi.ContentType(mimeType)).
		ProgressUpdater(progress).
		Context(ctx).
		Do()
}
